package domain

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw      string
		currency string
		want     int64
		wantErr  bool
	}{
		{raw: "25.00", currency: "USD", want: 2500},
		{raw: "25", currency: "usd", want: 2500},
		{raw: " 0.1 ", currency: "USD", want: 10},
		{raw: "0.00150000", currency: "BTC", want: 150000},
		{raw: "1", currency: "BTC", want: 100000000},
		{raw: "1000", currency: "JPY", want: 1000},
		{raw: "0.001", currency: "USD", wantErr: true},
		{raw: "0", currency: "USD", wantErr: true},
		{raw: "-5.00", currency: "USD", wantErr: true},
		{raw: "abc", currency: "USD", wantErr: true},
		{raw: "", currency: "USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw+"_"+tt.currency, func(t *testing.T) {
			got, err := ParseAmount(tt.raw, tt.currency)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(2500, "USD"); got != "25.00" {
		t.Fatalf("expected 25.00, got %s", got)
	}
	if got := FormatAmount(150000, "BTC"); got != "0.00150000" {
		t.Fatalf("expected 0.00150000, got %s", got)
	}
}

func TestProviderErrorMatchesKind(t *testing.T) {
	err := &ProviderError{Provider: ProviderStripe, Op: "create_payment_intent", Kind: ErrProviderUnavailable, Err: errors.New("timeout")}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatal("expected provider error to match ErrProviderUnavailable")
	}
	if errors.Is(err, ErrInvalidRequest) {
		t.Fatal("did not expect provider error to match ErrInvalidRequest")
	}
	if !err.OutcomeUnknown() {
		t.Fatal("expected unavailable provider outcome to be unknown")
	}
}
