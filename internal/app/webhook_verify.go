package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/reconciliation-service/internal/domain"
)

// SignatureVerifier authenticates a raw webhook body against the provider's signature headers.
// Every failure wraps domain.ErrAuthenticationFailed.
type SignatureVerifier interface {
	Verify(headers http.Header, body []byte) error
}

// WebhookSecrets holds the per-provider shared secrets.
type WebhookSecrets struct {
	Stripe       string
	PayPal       string
	BTCPay       string
	Coinbase     string
	AuthorizeNet string
}

// StripeSignatureTolerance is how far a Stripe-Signature timestamp may drift from now.
const StripeSignatureTolerance = 5 * time.Minute

// NewSignatureVerifiers builds the verifier table used by the event processor.
func NewSignatureVerifiers(secrets WebhookSecrets) map[domain.Provider]SignatureVerifier {
	return map[domain.Provider]SignatureVerifier{
		domain.ProviderStripe:       &StripeVerifier{Secret: secrets.Stripe, Tolerance: StripeSignatureTolerance},
		domain.ProviderPayPal:       &PayPalVerifier{Secret: secrets.PayPal},
		domain.ProviderBTCPay:       &BTCPayVerifier{Secret: secrets.BTCPay},
		domain.ProviderCoinbase:     &CoinbaseVerifier{Secret: secrets.Coinbase},
		domain.ProviderAuthorizeNet: &AuthorizeNetVerifier{SignatureKey: secrets.AuthorizeNet},
	}
}

func authFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, fmt.Sprintf(format, args...))
}

func computeHMAC(newHash func() hash.Hash, key []byte, parts ...[]byte) []byte {
	mac := hmac.New(newHash, key)
	for _, part := range parts {
		mac.Write(part)
	}
	return mac.Sum(nil)
}

func equalHex(expected []byte, provided string) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}

// StripeVerifier checks `Stripe-Signature: t=<unix>,v1=<hex>`.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func (v *StripeVerifier) Verify(headers http.Header, body []byte) error {
	if v.Secret == "" {
		return authFailed("stripe webhook secret not configured")
	}
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return authFailed("missing Stripe-Signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return authFailed("malformed Stripe-Signature header")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return authFailed("invalid Stripe-Signature timestamp")
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if v.Tolerance > 0 {
		drift := now().Sub(time.Unix(unix, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > v.Tolerance {
			return authFailed("Stripe-Signature timestamp outside tolerance")
		}
	}

	expected := computeHMAC(sha256.New, []byte(v.Secret), []byte(timestamp), []byte("."), body)
	for _, signature := range signatures {
		if equalHex(expected, signature) {
			return nil
		}
	}
	return authFailed("stripe signature mismatch")
}

// PayPalVerifier checks a base64 HMAC-SHA256 over "transmissionId|transmissionTime|body".
type PayPalVerifier struct {
	Secret string
}

func (v *PayPalVerifier) Verify(headers http.Header, body []byte) error {
	if v.Secret == "" {
		return authFailed("paypal webhook secret not configured")
	}
	id := headers.Get("Paypal-Transmission-Id")
	transmitted := headers.Get("Paypal-Transmission-Time")
	signature := headers.Get("Paypal-Transmission-Sig")
	if id == "" || transmitted == "" || signature == "" {
		return authFailed("missing PayPal transmission headers")
	}

	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return authFailed("invalid Paypal-Transmission-Sig encoding")
	}
	expected := computeHMAC(sha256.New, []byte(v.Secret), []byte(id), []byte("|"), []byte(transmitted), []byte("|"), body)
	if !hmac.Equal(provided, expected) {
		return authFailed("paypal signature mismatch")
	}
	return nil
}

// BTCPayVerifier checks `BTCPay-Sig: sha256=<hex>`.
type BTCPayVerifier struct {
	Secret string
}

func (v *BTCPayVerifier) Verify(headers http.Header, body []byte) error {
	if v.Secret == "" {
		return authFailed("btcpay webhook secret not configured")
	}
	header := headers.Get("BTCPay-Sig")
	signature, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || signature == "" {
		return authFailed("missing or malformed BTCPay-Sig header")
	}
	if !equalHex(computeHMAC(sha256.New, []byte(v.Secret), body), signature) {
		return authFailed("btcpay signature mismatch")
	}
	return nil
}

// CoinbaseVerifier checks `X-CC-Webhook-Signature: <hex>`.
type CoinbaseVerifier struct {
	Secret string
}

func (v *CoinbaseVerifier) Verify(headers http.Header, body []byte) error {
	if v.Secret == "" {
		return authFailed("coinbase webhook secret not configured")
	}
	signature := headers.Get("X-CC-Webhook-Signature")
	if signature == "" {
		return authFailed("missing X-CC-Webhook-Signature header")
	}
	if !equalHex(computeHMAC(sha256.New, []byte(v.Secret), body), signature) {
		return authFailed("coinbase signature mismatch")
	}
	return nil
}

// AuthorizeNetVerifier checks `X-ANET-Signature: sha512=<HEX>`. The signature key is the
// hex string shown in the merchant interface and is decoded before use.
type AuthorizeNetVerifier struct {
	SignatureKey string
}

func (v *AuthorizeNetVerifier) Verify(headers http.Header, body []byte) error {
	if v.SignatureKey == "" {
		return authFailed("authorize.net signature key not configured")
	}
	header := strings.TrimSpace(headers.Get("X-ANET-Signature"))
	if len(header) < len("sha512=") || !strings.EqualFold(header[:len("sha512=")], "sha512=") {
		return authFailed("missing or malformed X-ANET-Signature header")
	}
	signature := header[len("sha512="):]

	key, err := hex.DecodeString(v.SignatureKey)
	if err != nil {
		key = []byte(v.SignatureKey)
	}
	if !equalHex(computeHMAC(sha512.New, key, body), signature) {
		return authFailed("authorize.net signature mismatch")
	}
	return nil
}
