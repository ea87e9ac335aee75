package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const coinbaseAPIVersion = "2018-03-22"

// CoinbaseClient creates Coinbase Commerce charges.
type CoinbaseClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinbaseClient creates a Coinbase Commerce client.
func NewCoinbaseClient(baseURL, apiKey string, timeout time.Duration) *CoinbaseClient {
	return &CoinbaseClient{
		baseURL:    trimBaseURL(baseURL),
		apiKey:     apiKey,
		httpClient: newHTTPClient(timeout),
	}
}

// CoinbaseChargeParams describes a fixed-price charge.
type CoinbaseChargeParams struct {
	Name        string
	Description string
	Amount      string
	Currency    string
	RedirectURL string
	Metadata    map[string]string
}

// CoinbaseCharge is the charge resource.
type CoinbaseCharge struct {
	ID          string            `json:"id"`
	Code        string            `json:"code"`
	HostedURL   string            `json:"hosted_url"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   string            `json:"created_at"`
}

// CreateCharge creates a charge and returns its hosted checkout URL.
func (c *CoinbaseClient) CreateCharge(ctx context.Context, params CoinbaseChargeParams) (*CoinbaseCharge, error) {
	payload := map[string]any{
		"name":         params.Name,
		"description":  params.Description,
		"pricing_type": "fixed_price",
		"local_price": map[string]string{
			"amount":   params.Amount,
			"currency": params.Currency,
		},
		"metadata": params.Metadata,
	}
	if params.RedirectURL != "" {
		payload["redirect_url"] = params.RedirectURL
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data CoinbaseCharge `json:"data"`
	}
	err = do(ctx, c.httpClient, call{
		provider:    "coinbase",
		op:          "create_charge",
		method:      http.MethodPost,
		url:         c.baseURL + "/charges",
		body:        body,
		contentType: "application/json",
		headers: map[string]string{
			"X-CC-Api-Key": c.apiKey,
			"X-CC-Version": coinbaseAPIVersion,
		},
		decodeError: decodeCoinbaseError,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func decodeCoinbaseError(body []byte) (string, string) {
	var resp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ""
	}
	return resp.Error.Type, resp.Error.Message
}
