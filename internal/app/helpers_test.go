package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
	"github.com/transfa/reconciliation-service/pkg/providerclient"
)

const (
	testStripeSecret   = "whsec_test"
	testPayPalSecret   = "paypal_test"
	testBTCPaySecret   = "btcpay_test"
	testCoinbaseSecret = "coinbase_test"
	testAuthNetKey     = "A1B2C3D4E5F60718293A4B5C6D7E8F90"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		keys = append(keys, m.routingKey)
	}
	return keys
}

type testHarness struct {
	repo      *store.MemoryRepository
	publisher *recordingPublisher
	notifier  *StatusNotifier
	applier   *TransitionApplier
	processor *EventProcessor
}

func newTestHarness() *testHarness {
	repo := store.NewMemoryRepository()
	publisher := &recordingPublisher{}
	logger := testLogger()
	notifier := NewStatusNotifier(publisher, "transfer_events", logger)
	applier := NewTransitionApplier(repo, notifier, logger)
	verifiers := NewSignatureVerifiers(WebhookSecrets{
		Stripe:       testStripeSecret,
		PayPal:       testPayPalSecret,
		BTCPay:       testBTCPaySecret,
		Coinbase:     testCoinbaseSecret,
		AuthorizeNet: testAuthNetKey,
	})
	processor := NewEventProcessor(verifiers, repo, NewMemoryEventMarkers(time.Hour), applier, logger)
	return &testHarness{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		applier:   applier,
		processor: processor,
	}
}

func seedTransfer(t *testing.T, repo store.Repository, provider domain.Provider, direction domain.Direction, ref string, status domain.Status) *domain.Transfer {
	t.Helper()
	created := time.Now().UTC().Add(-time.Minute)
	transfer := &domain.Transfer{
		ID:          uuid.New(),
		Provider:    provider,
		Direction:   direction,
		Amount:      2500,
		Currency:    "USD",
		Description: "seeded",
		SenderID:    uuid.New(),
		Status:      status,
		ExternalRef: ref,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if provider == domain.ProviderBTCPay {
		transfer.Currency = domain.CurrencyBTC
	}
	if err := repo.CreateTransfer(context.Background(), transfer); err != nil {
		t.Fatalf("seed transfer: %v", err)
	}
	return transfer
}

func mustTransfer(t *testing.T, repo store.Repository, id uuid.UUID) *domain.Transfer {
	t.Helper()
	transfer, err := repo.GetTransferByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load transfer: %v", err)
	}
	return transfer
}

func stripeHeaders(body string, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	mac.Write([]byte(ts + "." + body))
	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func paypalHeaders(body string) http.Header {
	id := "tx-" + uuid.NewString()
	at := time.Now().UTC().Format(time.RFC3339)
	mac := hmac.New(sha256.New, []byte(testPayPalSecret))
	mac.Write([]byte(id + "|" + at + "|" + body))
	h := http.Header{}
	h.Set("Paypal-Transmission-Id", id)
	h.Set("Paypal-Transmission-Time", at)
	h.Set("Paypal-Transmission-Sig", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return h
}

func btcpayHeaders(body string) http.Header {
	mac := hmac.New(sha256.New, []byte(testBTCPaySecret))
	mac.Write([]byte(body))
	h := http.Header{}
	h.Set("BTCPay-Sig", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func coinbaseHeaders(body string) http.Header {
	mac := hmac.New(sha256.New, []byte(testCoinbaseSecret))
	mac.Write([]byte(body))
	h := http.Header{}
	h.Set("X-CC-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	return h
}

func authNetHeaders(body string) http.Header {
	key, _ := hex.DecodeString(testAuthNetKey)
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(body))
	h := http.Header{}
	h.Set("X-ANET-Signature", "sha512="+strings.ToUpper(hex.EncodeToString(mac.Sum(nil))))
	return h
}

type stripeStub struct {
	mu     sync.Mutex
	calls  []providerclient.StripePaymentIntentParams
	intent *providerclient.StripePaymentIntent
	err    error
}

func (s *stripeStub) CreatePaymentIntent(ctx context.Context, params providerclient.StripePaymentIntentParams) (*providerclient.StripePaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, params)
	if s.err != nil {
		return nil, s.err
	}
	if s.intent != nil {
		return s.intent, nil
	}
	return &providerclient.StripePaymentIntent{ID: "pi_" + strconv.Itoa(len(s.calls)), ClientSecret: "pi_secret"}, nil
}

type paypalStub struct {
	createCalls  int
	captureCalls int
	order        *providerclient.PayPalOrder
	captured     *providerclient.PayPalOrder
	err          error
}

func (s *paypalStub) CreateOrder(ctx context.Context, params providerclient.PayPalOrderParams) (*providerclient.PayPalOrder, error) {
	s.createCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *paypalStub) CaptureOrder(ctx context.Context, orderID string) (*providerclient.PayPalOrder, error) {
	s.captureCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.captured, nil
}

type btcpayStub struct {
	invoices     []providerclient.BTCPayInvoiceParams
	payouts      []providerclient.BTCPayPayoutParams
	approveCalls []string
	cancelCalls  []string
	err          error
	seq          int
	// onApprove runs inside ApprovePayout before it returns.
	onApprove func(payoutID string)
}

func (s *btcpayStub) CreateInvoice(ctx context.Context, params providerclient.BTCPayInvoiceParams) (*providerclient.BTCPayInvoice, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.invoices = append(s.invoices, params)
	s.seq++
	id := "inv_" + strconv.Itoa(s.seq)
	return &providerclient.BTCPayInvoice{ID: id, CheckoutLink: "https://btcpay.test/i/" + id}, nil
}

func (s *btcpayStub) CreatePayout(ctx context.Context, params providerclient.BTCPayPayoutParams) (*providerclient.BTCPayPayout, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.payouts = append(s.payouts, params)
	s.seq++
	return &providerclient.BTCPayPayout{ID: "po_" + strconv.Itoa(s.seq), State: "AwaitingApproval", PaymentMethod: "BTC-CHAIN"}, nil
}

func (s *btcpayStub) ApprovePayout(ctx context.Context, payoutID string) (*providerclient.BTCPayPayout, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.approveCalls = append(s.approveCalls, payoutID)
	if s.onApprove != nil {
		s.onApprove(payoutID)
	}
	return &providerclient.BTCPayPayout{ID: payoutID, State: "AwaitingPayment"}, nil
}

func (s *btcpayStub) CancelPayout(ctx context.Context, payoutID string) error {
	s.cancelCalls = append(s.cancelCalls, payoutID)
	return nil
}

type coinbaseStub struct {
	calls []providerclient.CoinbaseChargeParams
	err   error
}

func (s *coinbaseStub) CreateCharge(ctx context.Context, params providerclient.CoinbaseChargeParams) (*providerclient.CoinbaseCharge, error) {
	s.calls = append(s.calls, params)
	if s.err != nil {
		return nil, s.err
	}
	return &providerclient.CoinbaseCharge{ID: "c-1", Code: "CODE" + strconv.Itoa(len(s.calls)), HostedURL: "https://commerce.test/charge"}, nil
}

type authNetStub struct {
	calls    int
	response *providerclient.AuthorizeNetTransactionResponse
	err      error
}

func (s *authNetStub) Charge(ctx context.Context, params providerclient.AuthorizeNetChargeParams) (*providerclient.AuthorizeNetTransactionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}
