// Package refund computes refund breakdowns for slot cancellations.
// The calculator is a pure function of the match start time, the
// current time, the per-slot price and the slot count: it never
// performs I/O and never mutates state. Tier breakpoints and
// percentages are policy, supplied by configuration, not hard-coded.
package refund

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Time-window labels for the default policy tiers.
const (
	WindowFull    = "FULL_REFUND"
	WindowPartial = "PARTIAL_REFUND"
	WindowNone    = "NO_REFUND"
)

// Tier grants Percent of the paid amount when the cancellation happens
// at least MinHours before the match starts.
type Tier struct {
	MinHours float64         // inclusive lower bound on hours until match
	Percent  decimal.Decimal // refund percentage, 0..100
	Window   string          // label reported in the breakdown
}

// Policy is an ordered list of tiers, highest MinHours first. A
// cancellation matches the first tier whose MinHours is satisfied;
// below every tier (including past-start cancellations) the refund is
// zero with window NO_REFUND.
type Policy struct {
	tiers []Tier
}

// NewPolicy validates and returns a policy. Tiers must be sorted by
// strictly decreasing MinHours with non-increasing percentages, so the
// refund amount is monotonically non-increasing as the match
// approaches.
func NewPolicy(tiers []Tier) (Policy, error) {
	if len(tiers) == 0 {
		return Policy{}, errors.New("refund policy needs at least one tier")
	}
	hundred := decimal.NewFromInt(100)
	for i, t := range tiers {
		if t.Percent.IsNegative() || t.Percent.GreaterThan(hundred) {
			return Policy{}, fmt.Errorf("tier %d: percent %s out of range [0,100]", i, t.Percent)
		}
		if t.Window == "" {
			return Policy{}, fmt.Errorf("tier %d: missing window label", i)
		}
		if i > 0 {
			if t.MinHours >= tiers[i-1].MinHours {
				return Policy{}, fmt.Errorf("tier %d: breakpoints must strictly decrease", i)
			}
			if t.Percent.GreaterThan(tiers[i-1].Percent) {
				return Policy{}, fmt.Errorf("tier %d: percentages must not increase toward the match", i)
			}
		}
	}
	return Policy{tiers: tiers}, nil
}

// DefaultPolicy is the illustrative two-tier policy: full refund at
// 24h or more before start, half below that, nothing once started.
func DefaultPolicy() Policy {
	p, err := NewPolicy([]Tier{
		{MinHours: 24, Percent: decimal.NewFromInt(100), Window: WindowFull},
		{MinHours: 0, Percent: decimal.NewFromInt(50), Window: WindowPartial},
	})
	if err != nil {
		panic(err) // static tiers, cannot fail
	}
	return p
}

// Breakdown is the full audit record of one refund computation.
// Amounts are in minor currency units.
type Breakdown struct {
	RefundPercent      decimal.Decimal
	RefundAmount       int64
	HoursUntilMatch    float64
	EligibleForRefund  bool
	PerSlotAmount      int64
	TotalSlotsToCancel int
	BaseRefundAmount   int64
	TimeWindow         string
}

// Calculate resolves the tier for the given instant and computes the
// refund. baseRefundAmount = perSlotPrice * slots; refundAmount =
// round(base * percent / 100) rounded half-up to the minor unit, so
// repeated calls with the same inputs are byte-identical.
func Calculate(p Policy, matchStart, now time.Time, perSlotPrice int64, slots int) Breakdown {
	hours := matchStart.Sub(now).Hours()

	percent := decimal.Zero
	window := WindowNone
	for _, t := range p.tiers {
		if hours >= t.MinHours {
			percent = t.Percent
			window = t.Window
			break
		}
	}

	base := perSlotPrice * int64(slots)
	// decimal.Round rounds half away from zero, which is half-up for
	// the non-negative amounts handled here.
	amount := decimal.NewFromInt(base).
		Mul(percent).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return Breakdown{
		RefundPercent:      percent,
		RefundAmount:       amount,
		HoursUntilMatch:    hours,
		EligibleForRefund:  amount > 0,
		PerSlotAmount:      perSlotPrice,
		TotalSlotsToCancel: slots,
		BaseRefundAmount:   base,
		TimeWindow:         window,
	}
}
