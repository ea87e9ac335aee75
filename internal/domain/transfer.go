/**
 * @description
 * This file defines the core domain models for the reconciliation-service.
 * A Transfer is the canonical ledger record for one payment or payout regardless of
 * which rail moved the money; provider-specific shapes are kept in Metadata.
 *
 * @notes
 * - Amounts are stored as `int64` in the currency's minor unit (cents, satoshis) to
 *   avoid floating-point drift. See amount.go for parsing and formatting.
 * - Only Status and UpdatedAt change after a Transfer is created.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider identifies the payment rail a Transfer was created on.
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderPayPal       Provider = "paypal"
	ProviderBTCPay       Provider = "btcpay"
	ProviderCoinbase     Provider = "coinbase"
	ProviderAuthorizeNet Provider = "authorize_net"
)

// Providers lists every supported rail in a stable order.
var Providers = []Provider{
	ProviderStripe,
	ProviderPayPal,
	ProviderBTCPay,
	ProviderCoinbase,
	ProviderAuthorizeNet,
}

// ParseProvider accepts the canonical name and a few URL-friendly aliases.
func ParseProvider(raw string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stripe":
		return ProviderStripe, nil
	case "paypal":
		return ProviderPayPal, nil
	case "btcpay", "btcpayserver":
		return ProviderBTCPay, nil
	case "coinbase", "coinbase_commerce":
		return ProviderCoinbase, nil
	case "authorize_net", "authorize-net", "authorizenet", "authnet":
		return ProviderAuthorizeNet, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, raw)
}

// Direction records whether money came in or went out.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Transfer is the central ledger record for any money movement.
// It maps directly to the `transfers` table.
type Transfer struct {
	ID          uuid.UUID      `json:"id"`
	Provider    Provider       `json:"provider"`
	Direction   Direction      `json:"direction"`
	Amount      int64          `json:"amount"` // minor units
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	SenderID    uuid.UUID      `json:"sender_id"`
	ReceiverID  *uuid.UUID     `json:"receiver_id,omitempty"`
	Status      Status         `json:"status"`
	ExternalRef string         `json:"external_ref"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsBTCPayout reports whether the transfer is an outbound Bitcoin payout gated by approval.
func (t *Transfer) IsBTCPayout() bool {
	return t.Provider == ProviderBTCPay && t.Direction == DirectionOutbound
}

// ApprovalStatus is the admin gate state of an outbound BTC payout.
type ApprovalStatus string

const (
	ApprovalAwaiting ApprovalStatus = "awaiting_approval"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PayoutApproval specializes an outbound BTCPay Transfer.
type PayoutApproval struct {
	TransferID     uuid.UUID      `json:"transfer_id"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	ApprovedBy     *string        `json:"approved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ConnectedAccount tracks whether a user's Stripe Connect account can receive transfers.
type ConnectedAccount struct {
	AccountID       string    `json:"account_id"`
	UserID          uuid.UUID `json:"user_id"`
	TransfersLinked bool      `json:"transfers_linked"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// User is the slice of a user record the adapters need.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	ConnectedAccountID *string   `json:"connected_account_id,omitempty"`
	ConnectedLinked    bool      `json:"connected_linked"`
}

// NormalizedTransactionView is the one display/query schema shared by every provider.
// It is computed on read and never persisted.
type NormalizedTransactionView struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      string          `json:"status"`
	Email       string          `json:"email"`
	Source      Provider        `json:"source"`
}

// CreateTransferRequest is the provider-agnostic input shared by every adapter.
// Amount is a decimal string in major units, e.g. "25.00".
type CreateTransferRequest struct {
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Description string     `json:"description"`
	ReceiverID  *uuid.UUID `json:"receiver_id,omitempty"`
	Email       string     `json:"email,omitempty"`
	SenderID    uuid.UUID  `json:"-"`
}

// CoinbaseChargeRequest adds the payment-method hint, which is never stored on the Transfer.
type CoinbaseChargeRequest struct {
	CreateTransferRequest
	PaymentMethod string `json:"payment_method"`
}

// AuthorizeNetChargeRequest carries the opaque card token produced by Accept.js.
type AuthorizeNetChargeRequest struct {
	CreateTransferRequest
	OpaqueDataDescriptor string `json:"opaque_data_descriptor"`
	OpaqueDataValue      string `json:"opaque_data_value"`
}

// PayoutRequest asks for an outbound BTC payout to a destination address.
type PayoutRequest struct {
	Amount      string    `json:"amount"`
	Destination string    `json:"destination"`
	Description string    `json:"description"`
	RequestedBy uuid.UUID `json:"-"`
}

// RefillRequest funds the payout float with a separate inbound invoice.
type RefillRequest struct {
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	AdminID     uuid.UUID `json:"-"`
}

// CreateTransferResult is returned to callers of the adapters.
type CreateTransferResult struct {
	Transfer     *Transfer `json:"transfer"`
	RedirectURL  string    `json:"redirect_url,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
}

// PayoutResult pairs a payout Transfer with its approval record.
type PayoutResult struct {
	Transfer *Transfer       `json:"transfer"`
	Approval *PayoutApproval `json:"approval"`
}

// PayoutFloat summarizes the BTC float available to payouts, in satoshis.
type PayoutFloat struct {
	Refilled  int64 `json:"refilled"`
	Committed int64 `json:"committed"`
	Available int64 `json:"available"`
}
