package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyBTC is the currency code used for BTCPay invoices and payouts.
const CurrencyBTC = "BTC"

// CurrencyExponent returns the number of minor-unit digits for a currency.
func CurrencyExponent(currency string) int32 {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case CurrencyBTC:
		return 8
	case "JPY", "KRW":
		return 0
	default:
		return 2
	}
}

// ParseAmount converts a positive decimal string in major units into minor units.
// More fractional digits than the currency allows is rejected rather than rounded.
func ParseAmount(raw string, currency string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidRequest)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidRequest, raw)
	}
	if !value.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	}
	exp := CurrencyExponent(currency)
	minor := value.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %q has more than %d decimal places", ErrInvalidRequest, raw, exp)
	}
	if minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("%w: amount %q is out of range", ErrInvalidRequest, raw)
	}
	return minor.IntPart(), nil
}

// MajorUnits converts minor units back to a decimal in major units.
func MajorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}

// FormatAmount renders minor units with the currency's fixed number of decimals,
// which is the shape every provider API expects.
func FormatAmount(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return MajorUnits(minor, currency).StringFixed(exp)
}

// NormalizeCurrency upper-cases the code and falls back to the given default.
func NormalizeCurrency(currency, fallback string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return strings.ToUpper(fallback)
	}
	return currency
}
