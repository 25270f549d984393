package types

import (
	"errors"
	"testing"
)

func TestMoneyNewAndEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Money
		equal bool
	}{
		{"same", New(50000, "usd"), New(50000, "usd"), true},
		{"currency case", New(50000, "USD"), Money{Amount: 50000, Currency: "Usd"}, true},
		{"amount differs", New(50000, "usd"), New(49999, "usd"), false},
		{"currency differs", New(100, "usd"), New(100, "eur"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal: got %v, want %v", got, tt.equal)
			}
		})
	}

	if m := New(1, "GBP"); m.Currency != "gbp" {
		t.Errorf("Currency: got %s, want gbp", m.Currency)
	}
}

func TestDecimals(t *testing.T) {
	for currency, want := range map[string]int{"usd": 2, "EUR": 2, "jpy": 0, "KRW": 0} {
		if got := Decimals(currency); got != want {
			t.Errorf("Decimals(%s): got %d, want %d", currency, got, want)
		}
	}
}

func TestParseMinorUnits(t *testing.T) {
	tests := []struct {
		text     string
		currency string
		want     int64
		wantErr  bool
	}{
		{"50000", "usd", 50000, false},
		{" 50000 ", "USD", 50000, false},
		{"500.00", "usd", 50000, false},
		{"500.0", "usd", 50000, false},
		{"500.", "usd", 50000, false},
		{".5", "usd", 50, false},
		{"500.000", "usd", 50000, false},
		{"1800.00", "usd", 180000, false},
		{"100", "jpy", 100, false},
		{"100.0", "jpy", 100, false},
		{"0", "usd", 0, false},
		{"500.001", "usd", 0, true},
		{"100.5", "jpy", 0, true},
		{"", "usd", 0, true},
		{".", "usd", 0, true},
		{"-100", "usd", 0, true},
		{"1,000.00", "usd", 0, true},
		{"5e3", "usd", 0, true},
		{"99999999999999999999", "usd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.currency, func(t *testing.T) {
			got, err := ParseMinorUnits(tt.text, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("500.00", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(New(50000, "usd")) {
		t.Errorf("got %v, want 50000 usd", m)
	}
}
