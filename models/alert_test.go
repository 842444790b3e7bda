package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAlertCheck(t *testing.T) {
	alert := Alert{Name: "A", HighThreshold: 100, LowThreshold: 50}

	tests := []struct {
		price string
		want  Breach
	}{
		{"150", BreachCeiling},
		{"100.01", BreachCeiling},
		{"100", BreachNone},
		{"75.5", BreachNone},
		{"50", BreachNone},
		{"49.99999999", BreachFloor},
		{"0", BreachFloor},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got := alert.Check(decimal.RequireFromString(tt.price))
			if got != tt.want {
				t.Errorf("Check(%s) = %s, want %s", tt.price, got, tt.want)
			}
		})
	}
}

func TestAlertCheckInvertedThresholds(t *testing.T) {
	// low above high: the ceiling is checked first
	alert := Alert{Name: "weird", HighThreshold: 50, LowThreshold: 100}

	if got := alert.Check(decimal.NewFromInt(75)); got != BreachCeiling {
		t.Errorf("Check(75) = %s, want ceiling", got)
	}
}

func TestAlertMessage(t *testing.T) {
	alert := Alert{Name: "btc-watch", HighThreshold: 100, LowThreshold: 50.5}

	up := alert.Message(BreachCeiling, decimal.RequireFromString("150.25"))
	for _, part := range []string{"btc-watch", "above", "100", "150.25"} {
		if !strings.Contains(up, part) {
			t.Errorf("ceiling message %q missing %q", up, part)
		}
	}

	down := alert.Message(BreachFloor, decimal.RequireFromString("42"))
	for _, part := range []string{"btc-watch", "below", "50.5", "42"} {
		if !strings.Contains(down, part) {
			t.Errorf("floor message %q missing %q", down, part)
		}
	}

	if msg := alert.Message(BreachNone, decimal.Zero); msg != "" {
		t.Errorf("expected empty message for no breach, got %q", msg)
	}
}

func TestAlertRequestToAlert(t *testing.T) {
	high, low := 120.5, 0.0
	req := AlertRequest{Name: "A", HighThreshold: &high, LowThreshold: &low}

	got := req.ToAlert()
	want := Alert{Name: "A", HighThreshold: 120.5, LowThreshold: 0}
	if got != want {
		t.Errorf("ToAlert() = %+v, want %+v", got, want)
	}
}

func TestAlertRecordRoundTrip(t *testing.T) {
	a := Alert{Name: "A", HighThreshold: 1, LowThreshold: 2}
	if got := NewAlertRecord(a).ToAlert(); got != a {
		t.Errorf("record round trip = %+v, want %+v", got, a)
	}
}

func TestParsePrice(t *testing.T) {
	if _, err := ParsePrice("67234.12000000"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, raw := range []string{"", "abc", "12,5"} {
		if _, err := ParsePrice(raw); err == nil {
			t.Errorf("ParsePrice(%q) expected error", raw)
		}
	}
}
