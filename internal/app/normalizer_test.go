package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/reconciliation-service/internal/domain"
)

func decodeRecord(t *testing.T, body string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return raw
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		name     string
		provider domain.Provider
		body     string
		want     string
	}{
		{name: "stripe receipt email", provider: domain.ProviderStripe, body: `{"receipt_email":"a@example.com"}`, want: "a@example.com"},
		{name: "stripe billing details fallback", provider: domain.ProviderStripe, body: `{"charges":{"data":[{"billing_details":{"email":"b@example.com"}}]}}`, want: "b@example.com"},
		{name: "paypal payer", provider: domain.ProviderPayPal, body: `{"payer":{"email_address":"c@example.com"}}`, want: "c@example.com"},
		{name: "btcpay buyer email", provider: domain.ProviderBTCPay, body: `{"metadata":{"buyerEmail":"d@example.com"}}`, want: "d@example.com"},
		{name: "coinbase metadata", provider: domain.ProviderCoinbase, body: `{"metadata":{"email":"e@example.com"}}`, want: "e@example.com"},
		{name: "authorize.net customer", provider: domain.ProviderAuthorizeNet, body: `{"transaction":{"customer":{"email":"f@example.com"}}}`, want: "f@example.com"},
		{name: "missing email", provider: domain.ProviderPayPal, body: `{"payer":{}}`, want: EmailUnavailable},
		{name: "unknown provider", provider: domain.Provider("venmo"), body: `{"email":"g@example.com"}`, want: EmailUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractEmail(tt.provider, decodeRecord(t, tt.body)); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeStripeConvertsMinorUnits(t *testing.T) {
	raw := decodeRecord(t, `{"id":"pi_1","amount":2500,"currency":"usd","description":"dinner","created":1700000000,"status":"succeeded","receipt_email":"a@example.com"}`)
	view := Normalize(domain.ProviderStripe, raw)

	if view.ID != "pi_1" || view.Currency != "USD" || view.Description != "dinner" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if !view.Amount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("expected 25, got %s", view.Amount)
	}
	if !view.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected created_at %s", view.CreatedAt)
	}
	if view.Status != string(domain.StatusCompleted) || view.Email != "a@example.com" || view.Source != domain.ProviderStripe {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestNormalizeProviderShapes(t *testing.T) {
	tests := []struct {
		name       string
		provider   domain.Provider
		body       string
		wantID     string
		wantAmount string
		wantStatus string
		wantEmail  string
	}{
		{
			name:       "paypal order",
			provider:   domain.ProviderPayPal,
			body:       `{"id":"ORDER-1","status":"COMPLETED","create_time":"2024-05-01T10:00:00Z","purchase_units":[{"amount":{"currency_code":"USD","value":"25.00"}}]}`,
			wantID:     "ORDER-1",
			wantAmount: "25",
			wantStatus: "completed",
			wantEmail:  EmailUnavailable,
		},
		{
			name:       "btcpay invoice",
			provider:   domain.ProviderBTCPay,
			body:       `{"id":"inv_1","amount":"0.0015","currency":"BTC","status":"Settled","createdTime":1700000000,"metadata":{"buyerEmail":"b@example.com"}}`,
			wantID:     "inv_1",
			wantAmount: "0.0015",
			wantStatus: "completed",
			wantEmail:  "b@example.com",
		},
		{
			name:       "coinbase charge uses latest timeline entry",
			provider:   domain.ProviderCoinbase,
			body:       `{"code":"ABC","pricing":{"local":{"amount":"10.00","currency":"USD"}},"timeline":[{"status":"NEW"},{"status":"PENDING"}]}`,
			wantID:     "ABC",
			wantAmount: "10",
			wantStatus: "processing",
			wantEmail:  EmailUnavailable,
		},
		{
			name:       "authorize.net transaction",
			provider:   domain.ProviderAuthorizeNet,
			body:       `{"transaction":{"transId":"60001","authAmount":"12.50","transactionStatus":"settledSuccessfully","submitTimeUTC":"2024-05-01T10:00:00.123Z","customer":{"email":"c@example.com"}}}`,
			wantID:     "60001",
			wantAmount: "12.5",
			wantStatus: "completed",
			wantEmail:  "c@example.com",
		},
		{
			name:       "missing fields become zero values",
			provider:   domain.ProviderBTCPay,
			body:       `{}`,
			wantID:     "",
			wantAmount: "0",
			wantStatus: "",
			wantEmail:  EmailUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := Normalize(tt.provider, decodeRecord(t, tt.body))
			if view.ID != tt.wantID {
				t.Fatalf("expected id %q, got %q", tt.wantID, view.ID)
			}
			if !view.Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Fatalf("expected amount %s, got %s", tt.wantAmount, view.Amount)
			}
			if view.Status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, view.Status)
			}
			if view.Email != tt.wantEmail {
				t.Fatalf("expected email %q, got %q", tt.wantEmail, view.Email)
			}
		})
	}
}

func TestNormalizeRecordsNonListIsEmpty(t *testing.T) {
	for _, raw := range []any{nil, "records", map[string]any{"id": "x"}} {
		views := NormalizeRecords(domain.ProviderStripe, raw)
		if views == nil || len(views) != 0 {
			t.Fatalf("expected empty non-nil slice for %#v, got %#v", raw, views)
		}
	}

	views := NormalizeRecords(domain.ProviderStripe, []any{map[string]any{"id": "pi_1"}, "skip"})
	if len(views) != 1 || views[0].ID != "pi_1" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestNormalizeTransferUsesStoredMetadata(t *testing.T) {
	transfer := domain.Transfer{
		ID:        uuid.New(),
		Provider:  domain.ProviderBTCPay,
		Amount:    150_000,
		Currency:  domain.CurrencyBTC,
		Status:    domain.StatusPending,
		Metadata:  map[string]any{"metadata": map[string]any{"buyerEmail": "d@example.com"}},
		CreatedAt: time.Now().UTC(),
	}
	view := NormalizeTransfer(transfer)
	if !view.Amount.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("expected 0.0015 BTC, got %s", view.Amount)
	}
	if view.Email != "d@example.com" || view.Status != "pending" || view.ID != transfer.ID.String() {
		t.Fatalf("unexpected view: %+v", view)
	}
}
