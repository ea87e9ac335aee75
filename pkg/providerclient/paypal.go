package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PayPalClient talks to the PayPal Orders v2 API. Access tokens are cached until shortly
// before they expire.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewPayPalClient creates a PayPal client. baseURL is the sandbox or live API host.
func NewPayPalClient(baseURL, clientID, clientSecret string, timeout time.Duration) *PayPalClient {
	return &PayPalClient{
		baseURL:      trimBaseURL(baseURL),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   newHTTPClient(timeout),
	}
}

// PayPalLink is a HATEOAS link on an order.
type PayPalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// PayPalOrder is the order resource returned by create and capture.
type PayPalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Links         []PayPalLink         `json:"links"`
	Payer         *PayPalPayer         `json:"payer,omitempty"`
	PurchaseUnits []PayPalPurchaseUnit `json:"purchase_units"`
	CreateTime    string               `json:"create_time"`
}

// PayPalPayer identifies the buyer on a captured order.
type PayPalPayer struct {
	EmailAddress string `json:"email_address"`
	PayerID      string `json:"payer_id"`
}

// PayPalPurchaseUnit carries the amount and, after capture, the capture records.
type PayPalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      *PayPalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []PayPalCapture `json:"captures"`
	} `json:"payments,omitempty"`
}

// PayPalAmount is a PayPal money value with a decimal string amount.
type PayPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// PayPalCapture is one capture of an order.
type PayPalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount PayPalAmount `json:"amount"`
}

// PayPalOrderParams describes the order to create.
type PayPalOrderParams struct {
	ReferenceID string
	Description string
	Currency    string
	Value       string
	ReturnURL   string
	CancelURL   string
}

// ApproveURL returns the link the buyer must follow to approve the order.
func (o *PayPalOrder) ApproveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

// CaptureStatus returns the status of the first capture, falling back to the order status.
func (o *PayPalOrder) CaptureStatus() string {
	for _, unit := range o.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			return unit.Payments.Captures[0].Status
		}
	}
	return o.Status
}

// CreateOrder creates a CAPTURE-intent order.
func (c *PayPalClient) CreateOrder(ctx context.Context, params PayPalOrderParams) (*PayPalOrder, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []PayPalPurchaseUnit{{
			ReferenceID: params.ReferenceID,
			Description: params.Description,
			Amount:      &PayPalAmount{CurrencyCode: params.Currency, Value: params.Value},
		}},
	}
	if params.ReturnURL != "" || params.CancelURL != "" {
		payload["application_context"] = map[string]string{
			"return_url": params.ReturnURL,
			"cancel_url": params.CancelURL,
		}
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	var order PayPalOrder
	err = do(ctx, c.httpClient, call{
		provider:    "paypal",
		op:          "create_order",
		method:      http.MethodPost,
		url:         c.baseURL + "/v2/checkout/orders",
		body:        body,
		contentType: "application/json",
		headers: map[string]string{
			"Authorization":     "Bearer " + token,
			"PayPal-Request-Id": params.ReferenceID,
		},
		decodeError: decodePayPalError,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CaptureOrder captures an approved order.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*PayPalOrder, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var order PayPalOrder
	err = do(ctx, c.httpClient, call{
		provider:    "paypal",
		op:          "capture_order",
		method:      http.MethodPost,
		url:         c.baseURL + "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture",
		body:        strings.NewReader("{}"),
		contentType: "application/json",
		headers: map[string]string{
			"Authorization":     "Bearer " + token,
			"PayPal-Request-Id": "capture-" + orderID,
		},
		decodeError: decodePayPalError,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := do(ctx, c.httpClient, call{
		provider:    "paypal",
		op:          "oauth_token",
		method:      http.MethodPost,
		url:         c.baseURL + "/v1/oauth2/token",
		body:        strings.NewReader("grant_type=client_credentials"),
		contentType: "application/x-www-form-urlencoded",
		headers:     map[string]string{"Authorization": basicAuth(c.clientID, c.clientSecret)},
		decodeError: decodePayPalError,
	}, &resp)
	if err != nil {
		return "", err
	}

	c.accessToken = resp.AccessToken
	// Refresh a minute before expiry.
	c.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func basicAuth(user, pass string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}

func decodePayPalError(body []byte) (string, string) {
	var resp struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ""
	}
	if resp.Error != "" {
		return resp.Error, resp.ErrorDescription
	}
	return resp.Name, resp.Message
}
