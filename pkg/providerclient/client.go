/**
 * @description
 * This package provides thin HTTP clients for the payment providers the reconciliation
 * service talks to: Stripe, PayPal, BTCPay Server, Coinbase Commerce and Authorize.net.
 * Each client makes exactly one request per call; retries are left to the caller's
 * reconciliation path because a repeated charge is worse than a late one.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log/slog, net/http, time: Standard Go libraries.
 */
package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// APIError is returned for any non-2xx provider response.
type APIError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error: op=%s status=%d code=%s: %s", e.Provider, e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: op=%s status=%d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func trimBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// call describes one HTTP exchange with a provider.
type call struct {
	provider    string
	op          string
	method      string
	url         string
	body        io.Reader
	contentType string
	headers     map[string]string
	// decodeError extracts code and message from an error body.
	decodeError func(body []byte) (code, message string)
}

func jsonBody(payload any) (io.Reader, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.NewReader(body), nil
}

// do executes the call and decodes a 2xx body into out. Transport errors are returned
// wrapped so callers can detect timeouts with errors.As / os.IsTimeout.
func do(ctx context.Context, client *http.Client, c call, out any) error {
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, c.body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.op, err)
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", c.op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", c.op, err)
	}
	bodyBytes = bytes.TrimPrefix(bodyBytes, []byte("\xef\xbb\xbf"))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: c.provider, Op: c.op, StatusCode: resp.StatusCode}
		if c.decodeError != nil {
			apiErr.Code, apiErr.Message = c.decodeError(bodyBytes)
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		slog.Warn("provider call failed",
			"component", "provider_client",
			"provider", c.provider,
			"op", c.op,
			"status", resp.StatusCode,
			"code", apiErr.Code,
		)
		return apiErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.op, err)
	}
	return nil
}
