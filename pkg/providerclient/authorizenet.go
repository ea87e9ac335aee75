package providerclient

import (
	"context"
	"net/http"
	"time"
)

// Authorize.net response codes on transactionResponse.responseCode.
const (
	AuthorizeNetApproved      = "1"
	AuthorizeNetDeclined      = "2"
	AuthorizeNetError         = "3"
	AuthorizeNetHeldForReview = "4"
)

const authorizeNetAuthFailedCode = "E00007"

// AuthorizeNetClient submits synchronous charges to the Authorize.net JSON API.
type AuthorizeNetClient struct {
	endpoint       string
	loginID        string
	transactionKey string
	httpClient     *http.Client
}

// NewAuthorizeNetClient creates a client. endpoint is the full request.api URL.
func NewAuthorizeNetClient(endpoint, loginID, transactionKey string, timeout time.Duration) *AuthorizeNetClient {
	return &AuthorizeNetClient{
		endpoint:       trimBaseURL(endpoint),
		loginID:        loginID,
		transactionKey: transactionKey,
		httpClient:     newHTTPClient(timeout),
	}
}

// AuthorizeNetChargeParams describes an authCaptureTransaction paid with an Accept.js token.
type AuthorizeNetChargeParams struct {
	RefID          string
	Amount         string
	Description    string
	CustomerEmail  string
	DataDescriptor string
	DataValue      string
}

type authorizeNetMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"message"`
}

// AuthorizeNetTransactionResponse is the transactionResponse block of a charge.
type AuthorizeNetTransactionResponse struct {
	ResponseCode string `json:"responseCode"`
	AuthCode     string `json:"authCode"`
	TransID      string `json:"transId"`
	AccountType  string `json:"accountType"`
	Messages     []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"messages"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		ErrorText string `json:"errorText"`
	} `json:"errors"`
}

// Reason returns the first error text, or the first message description.
func (r *AuthorizeNetTransactionResponse) Reason() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].ErrorText
	}
	if len(r.Messages) > 0 {
		return r.Messages[0].Description
	}
	return ""
}

// Charge runs a single authCaptureTransaction. A declined card is a successful call
// whose ResponseCode is not AuthorizeNetApproved.
func (c *AuthorizeNetClient) Charge(ctx context.Context, params AuthorizeNetChargeParams) (*AuthorizeNetTransactionResponse, error) {
	transaction := map[string]any{
		"transactionType": "authCaptureTransaction",
		"amount":          params.Amount,
		"payment": map[string]any{
			"opaqueData": map[string]string{
				"dataDescriptor": params.DataDescriptor,
				"dataValue":      params.DataValue,
			},
		},
	}
	if params.Description != "" {
		transaction["order"] = map[string]string{"description": params.Description}
	}
	if params.CustomerEmail != "" {
		transaction["customer"] = map[string]string{"email": params.CustomerEmail}
	}
	body, err := jsonBody(map[string]any{
		"createTransactionRequest": map[string]any{
			"merchantAuthentication": map[string]string{
				"name":           c.loginID,
				"transactionKey": c.transactionKey,
			},
			"refId":              params.RefID,
			"transactionRequest": transaction,
		},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		TransactionResponse *AuthorizeNetTransactionResponse `json:"transactionResponse"`
		RefID               string                           `json:"refId"`
		Messages            authorizeNetMessages             `json:"messages"`
	}
	err = do(ctx, c.httpClient, call{
		provider:    "authorize_net",
		op:          "create_transaction",
		method:      http.MethodPost,
		url:         c.endpoint,
		body:        body,
		contentType: "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}

	// The API answers 200 even for rejected requests; only a transactionResponse with a
	// response code means the card network saw the charge.
	if resp.TransactionResponse != nil && resp.TransactionResponse.ResponseCode != "" {
		return resp.TransactionResponse, nil
	}

	apiErr := &APIError{Provider: "authorize_net", Op: "create_transaction", StatusCode: http.StatusBadRequest}
	if len(resp.Messages.Message) > 0 {
		apiErr.Code = resp.Messages.Message[0].Code
		apiErr.Message = resp.Messages.Message[0].Text
	}
	if apiErr.Code == authorizeNetAuthFailedCode {
		apiErr.StatusCode = http.StatusUnauthorized
	}
	return nil, apiErr
}
