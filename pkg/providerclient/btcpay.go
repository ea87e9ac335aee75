package providerclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BTCPayClient talks to the BTCPay Server Greenfield API of a single store.
type BTCPayClient struct {
	baseURL    string
	apiKey     string
	storeID    string
	httpClient *http.Client
}

// NewBTCPayClient creates a Greenfield client scoped to storeID.
func NewBTCPayClient(baseURL, apiKey, storeID string, timeout time.Duration) *BTCPayClient {
	return &BTCPayClient{
		baseURL:    trimBaseURL(baseURL),
		apiKey:     apiKey,
		storeID:    storeID,
		httpClient: newHTTPClient(timeout),
	}
}

// BTCPayInvoiceParams describes an invoice to create.
type BTCPayInvoiceParams struct {
	Amount      string
	Currency    string
	OrderID     string
	BuyerEmail  string
	ItemDesc    string
	RedirectURL string
	Metadata    map[string]any
}

// BTCPayInvoice is the Greenfield invoice resource.
type BTCPayInvoice struct {
	ID           string         `json:"id"`
	CheckoutLink string         `json:"checkoutLink"`
	Status       string         `json:"status"`
	Amount       string         `json:"amount"`
	Currency     string         `json:"currency"`
	Metadata     map[string]any `json:"metadata"`
	CreatedTime  int64          `json:"createdTime"`
}

// BTCPayPayoutParams describes an outbound payout.
type BTCPayPayoutParams struct {
	Destination   string
	Amount        string
	PaymentMethod string
}

// BTCPayPayout is the Greenfield payout resource.
type BTCPayPayout struct {
	ID            string `json:"id"`
	Destination   string `json:"destination"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
	State         string `json:"state"`
	Revision      int    `json:"revision"`
	Date          int64  `json:"date"`
}

// CreateInvoice creates an inbound invoice.
func (c *BTCPayClient) CreateInvoice(ctx context.Context, params BTCPayInvoiceParams) (*BTCPayInvoice, error) {
	metadata := map[string]any{}
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	if params.OrderID != "" {
		metadata["orderId"] = params.OrderID
	}
	if params.BuyerEmail != "" {
		metadata["buyerEmail"] = params.BuyerEmail
	}
	if params.ItemDesc != "" {
		metadata["itemDesc"] = params.ItemDesc
	}
	payload := map[string]any{
		"amount":   params.Amount,
		"currency": params.Currency,
		"metadata": metadata,
	}
	if params.RedirectURL != "" {
		payload["checkout"] = map[string]any{"redirectURL": params.RedirectURL}
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	var invoice BTCPayInvoice
	if err := do(ctx, c.httpClient, c.newCall("create_invoice", http.MethodPost, "/invoices", body), &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// CreatePayout creates a store payout. BTCPay holds it in AwaitingApproval until approved.
func (c *BTCPayClient) CreatePayout(ctx context.Context, params BTCPayPayoutParams) (*BTCPayPayout, error) {
	method := params.PaymentMethod
	if method == "" {
		method = "BTC-CHAIN"
	}
	body, err := jsonBody(map[string]any{
		"destination":   params.Destination,
		"amount":        params.Amount,
		"paymentMethod": method,
		"approved":      false,
	})
	if err != nil {
		return nil, err
	}

	var payout BTCPayPayout
	if err := do(ctx, c.httpClient, c.newCall("create_payout", http.MethodPost, "/payouts", body), &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// ApprovePayout approves a payout so BTCPay will broadcast it.
func (c *BTCPayClient) ApprovePayout(ctx context.Context, payoutID string) (*BTCPayPayout, error) {
	body, err := jsonBody(map[string]any{"revision": 0})
	if err != nil {
		return nil, err
	}

	var payout BTCPayPayout
	if err := do(ctx, c.httpClient, c.newCall("approve_payout", http.MethodPost, "/payouts/"+url.PathEscape(payoutID), body), &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// CancelPayout cancels a payout that has not been broadcast.
func (c *BTCPayClient) CancelPayout(ctx context.Context, payoutID string) error {
	return do(ctx, c.httpClient, c.newCall("cancel_payout", http.MethodDelete, "/payouts/"+url.PathEscape(payoutID), nil), nil)
}

func (c *BTCPayClient) newCall(op, method, path string, body io.Reader) call {
	cl := call{
		provider:    "btcpay",
		op:          op,
		method:      method,
		url:         c.baseURL + "/api/v1/stores/" + url.PathEscape(c.storeID) + path,
		headers:     map[string]string{"Authorization": "token " + c.apiKey},
		decodeError: decodeBTCPayError,
	}
	if body != nil {
		cl.body = body
		cl.contentType = "application/json"
	}
	return cl
}

func decodeBTCPayError(body []byte) (string, string) {
	var single struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.Message != "" {
		return single.Code, single.Message
	}
	// Validation failures come back as a list of field errors.
	var fields []struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err == nil && len(fields) > 0 {
		return fields[0].Path, fields[0].Message
	}
	return "", ""
}
