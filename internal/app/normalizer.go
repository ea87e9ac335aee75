package app

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/reconciliation-service/internal/domain"
)

// EmailUnavailable is shown when a provider record carries no payer email.
const EmailUnavailable = "N/A"

// EmailExtractor pulls the payer email out of one provider's record shape.
type EmailExtractor func(raw map[string]any) string

var emailExtractors = map[domain.Provider]EmailExtractor{
	domain.ProviderStripe: func(raw map[string]any) string {
		return firstNonEmpty(
			stringAt(raw, "receipt_email"),
			stringAt(raw, "charges", "data", "0", "billing_details", "email"),
		)
	},
	domain.ProviderPayPal: func(raw map[string]any) string {
		return stringAt(raw, "payer", "email_address")
	},
	domain.ProviderBTCPay: func(raw map[string]any) string {
		return stringAt(raw, "metadata", "buyerEmail")
	},
	domain.ProviderCoinbase: func(raw map[string]any) string {
		return stringAt(raw, "metadata", "email")
	},
	domain.ProviderAuthorizeNet: func(raw map[string]any) string {
		return stringAt(raw, "transaction", "customer", "email")
	},
}

// ExtractEmail applies the provider's extractor, returning EmailUnavailable when absent.
func ExtractEmail(provider domain.Provider, raw map[string]any) string {
	extract, ok := emailExtractors[provider]
	if !ok || raw == nil {
		return EmailUnavailable
	}
	if email := extract(raw); email != "" {
		return email
	}
	return EmailUnavailable
}

// Normalize maps one raw provider record into the shared view. Missing fields become zero values.
func Normalize(provider domain.Provider, raw map[string]any) domain.NormalizedTransactionView {
	view := domain.NormalizedTransactionView{
		Source: provider,
		Email:  ExtractEmail(provider, raw),
		Amount: decimal.Zero,
	}
	if raw == nil {
		return view
	}

	switch provider {
	case domain.ProviderStripe:
		view.ID = stringAt(raw, "id")
		view.Currency = strings.ToUpper(stringAt(raw, "currency"))
		if minor, err := decimal.NewFromString(stringAt(raw, "amount")); err == nil {
			view.Amount = minor.Shift(-domain.CurrencyExponent(view.Currency))
		}
		view.Description = stringAt(raw, "description")
		view.CreatedAt = timeAt(raw, "created")
		view.Status = normalizeProviderStatus(provider, stringAt(raw, "status"))
	case domain.ProviderPayPal:
		view.ID = stringAt(raw, "id")
		view.Amount = decimalAt(raw, "purchase_units", "0", "amount", "value")
		view.Currency = strings.ToUpper(stringAt(raw, "purchase_units", "0", "amount", "currency_code"))
		view.Description = stringAt(raw, "purchase_units", "0", "description")
		view.CreatedAt = timeAt(raw, "create_time")
		view.Status = normalizeProviderStatus(provider, stringAt(raw, "status"))
	case domain.ProviderBTCPay:
		view.ID = stringAt(raw, "id")
		view.Amount = decimalAt(raw, "amount")
		view.Currency = strings.ToUpper(stringAt(raw, "currency"))
		view.Description = stringAt(raw, "metadata", "itemDesc")
		view.CreatedAt = timeAt(raw, "createdTime")
		view.Status = normalizeProviderStatus(provider, stringAt(raw, "status"))
	case domain.ProviderCoinbase:
		view.ID = firstNonEmpty(stringAt(raw, "code"), stringAt(raw, "id"))
		view.Amount = decimalAt(raw, "pricing", "local", "amount")
		view.Currency = strings.ToUpper(stringAt(raw, "pricing", "local", "currency"))
		view.Description = stringAt(raw, "description")
		view.CreatedAt = timeAt(raw, "created_at")
		view.Status = normalizeProviderStatus(provider, coinbaseLatestStatus(raw))
	case domain.ProviderAuthorizeNet:
		view.ID = stringAt(raw, "transaction", "transId")
		view.Amount = decimalAt(raw, "transaction", "authAmount")
		view.Currency = strings.ToUpper(firstNonEmpty(stringAt(raw, "transaction", "currencyCode"), "USD"))
		view.Description = stringAt(raw, "transaction", "order", "description")
		view.CreatedAt = timeAt(raw, "transaction", "submitTimeUTC")
		view.Status = normalizeProviderStatus(provider, stringAt(raw, "transaction", "transactionStatus"))
	}
	return view
}

// NormalizeRecords normalizes a list of raw records. Anything that is not a list yields
// an empty, non-nil slice.
func NormalizeRecords(provider domain.Provider, raw any) []domain.NormalizedTransactionView {
	views := []domain.NormalizedTransactionView{}
	switch records := raw.(type) {
	case []map[string]any:
		for _, record := range records {
			views = append(views, Normalize(provider, record))
		}
	case []any:
		for _, item := range records {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			views = append(views, Normalize(provider, record))
		}
	}
	return views
}

// NormalizeTransfer builds the view from a ledger record. The email comes from the provider
// record captured at creation.
func NormalizeTransfer(t domain.Transfer) domain.NormalizedTransactionView {
	return domain.NormalizedTransactionView{
		ID:          t.ID.String(),
		Amount:      domain.MajorUnits(t.Amount, t.Currency),
		Currency:    t.Currency,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		Status:      string(t.Status),
		Email:       ExtractEmail(t.Provider, t.Metadata),
		Source:      t.Provider,
	}
}

func normalizeProviderStatus(provider domain.Provider, raw string) string {
	status := strings.ToLower(strings.TrimSpace(raw))
	if status == "" {
		return ""
	}
	switch provider {
	case domain.ProviderStripe:
		switch status {
		case "succeeded":
			return string(domain.StatusCompleted)
		case "processing":
			return string(domain.StatusProcessing)
		case "canceled":
			return string(domain.StatusCancelled)
		case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
			return string(domain.StatusPending)
		}
	case domain.ProviderPayPal:
		switch status {
		case "completed":
			return string(domain.StatusCompleted)
		case "created", "saved", "approved", "payer_action_required":
			return string(domain.StatusPending)
		case "voided":
			return string(domain.StatusCancelled)
		case "declined", "denied":
			return string(domain.StatusFailed)
		}
	case domain.ProviderBTCPay:
		switch status {
		case "settled", "complete", "confirmed":
			return string(domain.StatusCompleted)
		case "new":
			return string(domain.StatusPending)
		case "processing":
			return string(domain.StatusProcessing)
		case "expired", "invalid":
			return string(domain.StatusFailed)
		}
	case domain.ProviderCoinbase:
		switch status {
		case "completed", "confirmed", "resolved":
			return string(domain.StatusCompleted)
		case "new":
			return string(domain.StatusPending)
		case "pending":
			return string(domain.StatusProcessing)
		case "expired", "unresolved", "failed":
			return string(domain.StatusFailed)
		case "canceled":
			return string(domain.StatusCancelled)
		}
	case domain.ProviderAuthorizeNet:
		switch status {
		case "settledsuccessfully", "capturedpendingsettlement":
			return string(domain.StatusCompleted)
		case "fdspendingreview", "fdsauthorizedpendingreview", "underreview":
			return string(domain.StatusPending)
		case "declined", "generalerror", "settlementerror", "expired":
			return string(domain.StatusFailed)
		case "voided":
			return string(domain.StatusCancelled)
		}
	}
	return status
}

func coinbaseLatestStatus(raw map[string]any) string {
	timeline, ok := valueAt(raw, "timeline").([]any)
	if ok && len(timeline) > 0 {
		if status := stringAt(timeline[len(timeline)-1], "status"); status != "" {
			return status
		}
	}
	return stringAt(raw, "status")
}

func decimalAt(raw any, path ...string) decimal.Decimal {
	value, err := decimal.NewFromString(stringAt(raw, path...))
	if err != nil {
		return decimal.Zero
	}
	return value
}

// timeAt accepts unix seconds or an RFC 3339 string.
func timeAt(raw any, path ...string) time.Time {
	switch v := valueAt(raw, path...).(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}
