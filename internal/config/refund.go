package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/techdoodle/match-slot-booking/internal/refund"
)

// LoadRefundPolicy parses the REFUND_TIERS value into a refund policy.
// The format is a comma-separated list of minHours:percent:WINDOW
// entries ordered from most to least generous, for example
// "24:100:FULL,0:50:PARTIAL". An empty value yields the default
// policy.
func LoadRefundPolicy(spec string) (refund.Policy, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return refund.DefaultPolicy(), nil
	}
	var tiers []refund.Tier
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return refund.Policy{}, fmt.Errorf("refund tier %q: want minHours:percent:WINDOW", entry)
		}
		minHours, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return refund.Policy{}, fmt.Errorf("refund tier %q: bad hours: %w", entry, err)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return refund.Policy{}, fmt.Errorf("refund tier %q: bad percent: %w", entry, err)
		}
		tiers = append(tiers, refund.Tier{
			MinHours: minHours,
			Percent:  percent,
			Window:   windowLabel(parts[2]),
		})
	}
	return refund.NewPolicy(tiers)
}

// windowLabel expands the short window names accepted in REFUND_TIERS
// to the labels reported in refund breakdowns.
func windowLabel(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FULL":
		return refund.WindowFull
	case "PARTIAL":
		return refund.WindowPartial
	case "NONE":
		return refund.WindowNone
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}
