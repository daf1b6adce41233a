package config

import (
	"testing"

	"github.com/techdoodle/match-slot-booking/internal/refund"
)

func TestLoadRefundPolicy(t *testing.T) {
	cases := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "empty uses defaults", spec: ""},
		{name: "two tiers with shorthand windows", spec: "24:100:FULL,0:50:PARTIAL"},
		{name: "three tiers with spaces", spec: " 48:100:FULL , 12:75:PARTIAL , 0:25:PARTIAL "},
		{name: "fractional hours and percent", spec: "1.5:33.3:PARTIAL"},
		{name: "missing field", spec: "24:100", wantErr: true},
		{name: "non-numeric hours", spec: "soon:100:FULL", wantErr: true},
		{name: "non-numeric percent", spec: "24:everything:FULL", wantErr: true},
		{name: "increasing breakpoints rejected", spec: "0:50:PARTIAL,24:100:FULL", wantErr: true},
		{name: "percent above hundred rejected", spec: "24:120:FULL", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadRefundPolicy(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("LoadRefundPolicy(%q) succeeded, want error", tc.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadRefundPolicy(%q): %v", tc.spec, err)
			}
		})
	}
}

func TestWindowLabelShorthand(t *testing.T) {
	if got := windowLabel("full"); got != refund.WindowFull {
		t.Fatalf("windowLabel(full) = %q", got)
	}
	if got := windowLabel(" none "); got != refund.WindowNone {
		t.Fatalf("windowLabel(none) = %q", got)
	}
	if got := windowLabel("GOODWILL"); got != "GOODWILL" {
		t.Fatalf("windowLabel(GOODWILL) = %q", got)
	}
}
