package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient creates PaymentIntents through the Stripe REST API.
type StripeClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewStripeClient creates a Stripe client. baseURL is normally https://api.stripe.com.
func NewStripeClient(baseURL, secretKey string, timeout time.Duration) *StripeClient {
	return &StripeClient{
		baseURL:    trimBaseURL(baseURL),
		secretKey:  secretKey,
		httpClient: newHTTPClient(timeout),
	}
}

// StripePaymentIntentParams is the subset of PaymentIntent create parameters the service uses.
type StripePaymentIntentParams struct {
	Amount         int64
	Currency       string
	Description    string
	ReceiptEmail   string
	Destination    string // connected account id; empty for a direct platform charge
	IdempotencyKey string
	Metadata       map[string]string
}

// StripePaymentIntent is the PaymentIntent resource as returned by Stripe.
type StripePaymentIntent struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	ReceiptEmail string `json:"receipt_email"`
	Created      int64  `json:"created"`
}

// CreatePaymentIntent posts a form-encoded PaymentIntent create request.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, params StripePaymentIntentParams) (*StripePaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	if params.ReceiptEmail != "" {
		form.Set("receipt_email", params.ReceiptEmail)
	}
	if params.Destination != "" {
		form.Set("transfer_data[destination]", params.Destination)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	headers := map[string]string{"Authorization": "Bearer " + c.secretKey}
	if params.IdempotencyKey != "" {
		headers["Idempotency-Key"] = params.IdempotencyKey
	}

	var intent StripePaymentIntent
	err := do(ctx, c.httpClient, call{
		provider:    "stripe",
		op:          "create_payment_intent",
		method:      http.MethodPost,
		url:         c.baseURL + "/v1/payment_intents",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		headers:     headers,
		decodeError: decodeStripeError,
	}, &intent)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func decodeStripeError(body []byte) (string, string) {
	var resp struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ""
	}
	code := resp.Error.Code
	if code == "" {
		code = resp.Error.Type
	}
	return code, resp.Error.Message
}
