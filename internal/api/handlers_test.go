package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/app"
	"github.com/transfa/reconciliation-service/internal/domain"
)

type fakeTransfers struct {
	TransferService
	users     map[string]uuid.UUID
	lastReq   domain.CreateTransferRequest
	createErr error
}

func (f *fakeTransfers) ResolveInternalUserID(_ context.Context, clerkUserID string) (uuid.UUID, error) {
	id, ok := f.users[clerkUserID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: user", domain.ErrNotFound)
	}
	return id, nil
}

func (f *fakeTransfers) CreateStripePayment(_ context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error) {
	f.lastReq = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.CreateTransferResult{
		Transfer:     &domain.Transfer{ID: uuid.New(), Provider: domain.ProviderStripe, Status: domain.StatusPending, SenderID: req.SenderID},
		ClientSecret: "pi_secret",
	}, nil
}

func (f *fakeTransfers) ListTransactionsForUser(_ context.Context, userID uuid.UUID) ([]domain.NormalizedTransactionView, error) {
	return []domain.NormalizedTransactionView{{ID: userID.String(), Email: app.EmailUnavailable, Source: domain.ProviderPayPal}}, nil
}

type fakePayouts struct {
	PayoutService
	executeErr error
	lastAdmin  string
}

func (f *fakePayouts) ExecutePayout(_ context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error) {
	f.lastAdmin = admin
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &domain.PayoutResult{Transfer: &domain.Transfer{ID: transferID, Status: domain.StatusProcessing}}, nil
}

func (f *fakePayouts) PayoutFloat(context.Context) (*domain.PayoutFloat, error) {
	return &domain.PayoutFloat{Refilled: 100, Committed: 40, Available: 60}, nil
}

type fakeWebhooks struct {
	outcome  app.Outcome
	err      error
	provider domain.Provider
	body     string
}

func (f *fakeWebhooks) HandleWebhook(_ context.Context, provider domain.Provider, _ http.Header, body []byte) (app.Outcome, error) {
	f.provider = provider
	f.body = string(body)
	return f.outcome, f.err
}

type routerFixture struct {
	issuer    *testIssuer
	transfers *fakeTransfers
	payouts   *fakePayouts
	webhooks  *fakeWebhooks
	handler   http.Handler
	userID    uuid.UUID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	issuer := newTestIssuer(t)
	userID := uuid.New()
	f := &routerFixture{
		issuer:    issuer,
		transfers: &fakeTransfers{users: map[string]uuid.UUID{"user_1": userID, "user_admin": uuid.New()}},
		payouts:   &fakePayouts{},
		webhooks:  &fakeWebhooks{outcome: app.OutcomeApplied},
		userID:    userID,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.handler = NewRouter(NewHandlers(f.transfers, f.payouts, f.webhooks, logger), RouterConfig{
		Auth:         AuthConfig{JWKSURL: issuer.server.URL},
		AdminUserIDs: []string{"user_admin"},
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", f.issuer.bearer(t, subject))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRoute(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{name: "applied", path: "/webhooks/paypal", wantStatus: http.StatusOK},
		{name: "bad signature", path: "/webhooks/stripe", err: fmt.Errorf("%w: mismatch", domain.ErrAuthenticationFailed), wantStatus: http.StatusUnauthorized},
		{name: "malformed", path: "/webhooks/btcpay", err: fmt.Errorf("%w: no ref", domain.ErrInvalidRequest), wantStatus: http.StatusBadRequest},
		{name: "deferred event asks for redelivery", path: "/webhooks/btcpay", err: fmt.Errorf("%w: PayoutUpdated po_1", domain.ErrTransitionDeferred), wantStatus: http.StatusConflict},
		{name: "storage failure asks for redelivery", path: "/webhooks/coinbase", err: fmt.Errorf("connection reset"), wantStatus: http.StatusInternalServerError},
		{name: "unknown provider", path: "/webhooks/venmo", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.webhooks.err = tt.err
			rec := f.do(t, http.MethodPost, tt.path, "", `{"id":"evt"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/webhooks/authorize_net", "", `{"id":"evt"}`)
	if rec.Code != http.StatusOK || f.webhooks.provider != domain.ProviderAuthorizeNet || f.webhooks.body != `{"id":"evt"}` {
		t.Fatalf("unexpected webhook dispatch: code=%d provider=%s body=%s", rec.Code, f.webhooks.provider, f.webhooks.body)
	}
}

func TestCreateStripePaymentRoute(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/transfers/stripe", "user_1", `{"amount":"25.00","currency":"usd","email":"a@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.transfers.lastReq.SenderID != f.userID || f.transfers.lastReq.Amount != "25.00" {
		t.Fatalf("unexpected request: %+v", f.transfers.lastReq)
	}
	var body domain.CreateTransferResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ClientSecret != "pi_secret" {
		t.Fatalf("unexpected body: %+v", body)
	}

	if rec := f.do(t, http.MethodPost, "/transfers/stripe", "", `{}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/transfers/stripe", "user_unknown", `{"amount":"1"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/transfers/stripe", "user_1", `{"amount":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid amount", err: fmt.Errorf("%w: amount", domain.ErrInvalidRequest), wantStatus: http.StatusBadRequest},
		{name: "timeout", err: &domain.ProviderError{Provider: domain.ProviderStripe, Op: "create_payment_intent", Kind: domain.ErrProviderUnavailable, Err: context.DeadlineExceeded}, wantStatus: http.StatusServiceUnavailable},
		{name: "bad credentials", err: &domain.ProviderError{Provider: domain.ProviderStripe, Op: "create_payment_intent", Kind: domain.ErrAuthenticationFailed, StatusCode: 401, Err: fmt.Errorf("401")}, wantStatus: http.StatusBadGateway},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.transfers.createErr = tt.err
			rec := f.do(t, http.MethodPost, "/transfers/stripe", "user_1", `{"amount":"25.00"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	f := newRouterFixture(t)
	f.transfers.createErr = &domain.ProviderError{Provider: domain.ProviderStripe, Kind: domain.ErrProviderUnavailable, Err: context.DeadlineExceeded}
	rec := f.do(t, http.MethodPost, "/transfers/stripe", "user_1", `{"amount":"25.00"}`)
	if !strings.Contains(rec.Body.String(), "unknown") {
		t.Fatalf("expected the body to say the charge state is unknown, got %s", rec.Body.String())
	}
}

func TestListTransactionsRoute(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/transfers", "user_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Transactions []domain.NormalizedTransactionView `json:"transactions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Transactions) != 1 || body.Transactions[0].Email != "N/A" {
		t.Fatalf("unexpected transactions: %+v", body.Transactions)
	}
}

func TestAdminPayoutRoutes(t *testing.T) {
	f := newRouterFixture(t)
	id := uuid.New()

	if rec := f.do(t, http.MethodPost, "/admin/payouts/"+id.String()+"/execute", "user_1", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/admin/payouts/"+id.String()+"/execute", "user_admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.payouts.lastAdmin != "user_admin" {
		t.Fatalf("expected admin identity to be passed, got %q", f.payouts.lastAdmin)
	}

	f.payouts.executeErr = fmt.Errorf("%w: awaiting_approval", domain.ErrNotApproved)
	if rec := f.do(t, http.MethodPost, "/admin/payouts/"+id.String()+"/execute", "user_admin", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unapproved payout, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/admin/payouts/not-a-uuid/execute", "user_admin", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/admin/payouts/float", "user_admin", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":60`) {
		t.Fatalf("unexpected float response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	f := newRouterFixture(t)
	if rec := f.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
