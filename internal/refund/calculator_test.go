package refund_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techdoodle/match-slot-booking/internal/refund"
)

func TestCalculateTiers(t *testing.T) {
	policy := refund.DefaultPolicy()
	start := time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		hoursAhead float64
		perSlot    int64
		slots      int
		wantAmount int64
		wantWindow string
	}{
		{"30h before, 3 slots at 300", 30, 300, 3, 900, refund.WindowFull},
		{"10h before, 3 slots at 300", 10, 300, 3, 450, refund.WindowPartial},
		{"exactly 24h is full", 24, 300, 3, 900, refund.WindowFull},
		{"just under 24h is partial", 23.99, 300, 3, 450, refund.WindowPartial},
		{"at kickoff still partial", 0, 300, 3, 450, refund.WindowPartial},
		{"after kickoff no refund", -2, 300, 3, 0, refund.WindowNone},
		{"half-up rounding of odd base", 10, 25, 1, 13, refund.WindowPartial},
		{"zero slots", 30, 300, 0, 0, refund.WindowFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := start.Add(-time.Duration(tt.hoursAhead * float64(time.Hour)))
			got := refund.Calculate(policy, start, now, tt.perSlot, tt.slots)
			if got.RefundAmount != tt.wantAmount {
				t.Errorf("RefundAmount = %d, want %d", got.RefundAmount, tt.wantAmount)
			}
			if got.TimeWindow != tt.wantWindow {
				t.Errorf("TimeWindow = %q, want %q", got.TimeWindow, tt.wantWindow)
			}
			if got.BaseRefundAmount != tt.perSlot*int64(tt.slots) {
				t.Errorf("BaseRefundAmount = %d, want %d", got.BaseRefundAmount, tt.perSlot*int64(tt.slots))
			}
			if got.EligibleForRefund != (tt.wantAmount > 0) {
				t.Errorf("EligibleForRefund = %v, want %v", got.EligibleForRefund, tt.wantAmount > 0)
			}
		})
	}
}

func TestCalculateDeterministic(t *testing.T) {
	policy := refund.DefaultPolicy()
	start := time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)
	now := start.Add(-30 * time.Hour)

	first := refund.Calculate(policy, start, now, 333, 3)
	for i := 0; i < 100; i++ {
		again := refund.Calculate(policy, start, now, 333, 3)
		if again != first {
			t.Fatalf("call %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestRefundMonotonicallyNonIncreasing(t *testing.T) {
	policy := refund.DefaultPolicy()
	start := time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)

	prev := int64(-1)
	// Walk from 72h before the match to 6h after it in 30m steps; the
	// refund must never grow as the match approaches.
	for h := 72.0; h >= -6; h -= 0.5 {
		now := start.Add(-time.Duration(h * float64(time.Hour)))
		got := refund.Calculate(policy, start, now, 300, 3)
		if prev >= 0 && got.RefundAmount > prev {
			t.Fatalf("refund grew from %d to %d at %.1fh before start", prev, got.RefundAmount, h)
		}
		prev = got.RefundAmount
	}
}

func TestNewPolicyValidation(t *testing.T) {
	pct := decimal.NewFromInt

	tests := []struct {
		name    string
		tiers   []refund.Tier
		wantErr bool
	}{
		{"valid two tier", []refund.Tier{
			{MinHours: 24, Percent: pct(100), Window: "FULL_REFUND"},
			{MinHours: 0, Percent: pct(50), Window: "PARTIAL_REFUND"},
		}, false},
		{"valid three tier", []refund.Tier{
			{MinHours: 48, Percent: pct(100), Window: "FULL_REFUND"},
			{MinHours: 24, Percent: pct(75), Window: "MOST_REFUND"},
			{MinHours: 0, Percent: pct(25), Window: "PARTIAL_REFUND"},
		}, false},
		{"empty", nil, true},
		{"percent over 100", []refund.Tier{
			{MinHours: 24, Percent: pct(150), Window: "FULL_REFUND"},
		}, true},
		{"breakpoints not decreasing", []refund.Tier{
			{MinHours: 24, Percent: pct(100), Window: "A"},
			{MinHours: 24, Percent: pct(50), Window: "B"},
		}, true},
		{"percent increases toward match", []refund.Tier{
			{MinHours: 24, Percent: pct(50), Window: "A"},
			{MinHours: 0, Percent: pct(100), Window: "B"},
		}, true},
		{"missing window label", []refund.Tier{
			{MinHours: 24, Percent: pct(100), Window: ""},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := refund.NewPolicy(tt.tiers)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPolicy err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
