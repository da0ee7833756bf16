package providers

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies a registered payment provider.
type Type string

const (
	TypeDwolla Type = "dwolla"
	TypeProxy  Type = "proxy"
)

// CustomerStatus is the normalized customer lifecycle state.
type CustomerStatus string

const (
	CustomerActive      CustomerStatus = "active"
	CustomerSuspended   CustomerStatus = "suspended"
	CustomerDeactivated CustomerStatus = "deactivated"
)

// VerificationStatus is the normalized KYC state of a customer.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRetry      VerificationStatus = "retry"
	VerificationDocument   VerificationStatus = "document_required"
	VerificationSuspended  VerificationStatus = "suspended"
)

// AccountType classifies a linked funding source.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountBalance  AccountType = "balance"
	AccountCard     AccountType = "card"
)

// AccountStatus is the normalized funding-source state.
type AccountStatus string

const (
	AccountUnverified AccountStatus = "unverified"
	AccountPending    AccountStatus = "pending"
	AccountVerified   AccountStatus = "verified"
	AccountSuspended  AccountStatus = "suspended"
	AccountClosed     AccountStatus = "closed"
)

// TransferStatus is the normalized transfer state. Transitions are driven
// by the provider and observed via GetTransfer or webhooks.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

// WebhookEventType is the closed vocabulary of normalized webhook topics.
type WebhookEventType string

const (
	EventCustomerCreated   WebhookEventType = "customer.created"
	EventCustomerVerified  WebhookEventType = "customer.verified"
	EventCustomerSuspended WebhookEventType = "customer.suspended"
	EventAccountAdded      WebhookEventType = "account.added"
	EventAccountVerified   WebhookEventType = "account.verified"
	EventAccountRemoved    WebhookEventType = "account.removed"
	EventTransferCreated   WebhookEventType = "transfer.created"
	EventTransferCompleted WebhookEventType = "transfer.completed"
	EventTransferFailed    WebhookEventType = "transfer.failed"
	EventTransferCancelled WebhookEventType = "transfer.cancelled"
	EventUnknown           WebhookEventType = "unknown"
)

// Customer is the provider-agnostic customer representation. Customers are
// never deleted upstream, only deactivated.
type Customer struct {
	ID                 string             `json:"id"`
	FirstName          string             `json:"firstName"`
	LastName           string             `json:"lastName"`
	Email              string             `json:"email"`
	Phone              string             `json:"phone,omitempty"`
	Status             CustomerStatus     `json:"status"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// Account is a linked funding source belonging to exactly one customer.
type Account struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customerId"`
	Name       string        `json:"name"`
	Type       AccountType   `json:"type"`
	Status     AccountStatus `json:"status"`
	BankName   string        `json:"bankName,omitempty"`
	Last4      string        `json:"last4,omitempty"`
}

// Balance is a point-in-time snapshot for one account. It is recomputed on
// every GetBalance call and never persisted.
type Balance struct {
	AccountID string          `json:"accountId"`
	Available decimal.Decimal `json:"available"`
	Current   decimal.Decimal `json:"current"`
	Currency  string          `json:"currency"`
	AsOf      time.Time       `json:"asOf"`
}

// Fee is a charge attached to a transfer.
type Fee struct {
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Transfer moves money between two funding sources of the same provider.
// Amounts are decimal major units (dollars, not cents) regardless of how
// the provider represents them on the wire.
type Transfer struct {
	ID                   string            `json:"id"`
	SourceAccountID      string            `json:"sourceAccountId"`
	DestinationAccountID string            `json:"destinationAccountId"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Status               TransferStatus    `json:"status"`
	Fees                 []Fee             `json:"fees,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is an ephemeral normalized webhook. Raw keeps the untouched
// provider payload for consumers that need provider-specific detail.
type WebhookEvent struct {
	ID        string           `json:"id"`
	Type      WebhookEventType `json:"type"`
	Raw       json.RawMessage  `json:"raw"`
	CreatedAt time.Time        `json:"createdAt"`
}

// CustomerInput carries the caller-supplied fields for customer creation
// and update.
type CustomerInput struct {
	FirstName string            `json:"firstName" validate:"required,min=1"`
	LastName  string            `json:"lastName" validate:"required,min=1"`
	Email     string            `json:"email" validate:"required,email"`
	Phone     string            `json:"phone,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LinkAccountInput carries the fields needed to link a funding source.
// Either bank details (routing + account number) or an external processor
// token is supplied, depending on the linking flow.
type LinkAccountInput struct {
	Name          string            `json:"name" validate:"required"`
	Type          AccountType       `json:"type" validate:"required,oneof=checking savings balance card"`
	RoutingNumber string            `json:"routingNumber,omitempty"`
	AccountNumber string            `json:"accountNumber,omitempty"`
	PlaidToken    string            `json:"plaidToken,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TransferInput carries the fields for transfer creation. Callers that
// retry must de-duplicate via Metadata (e.g. an idempotency key); the
// layer itself gives no idempotency guarantee.
type TransferInput struct {
	SourceAccountID      string            `json:"sourceAccountId" validate:"required"`
	DestinationAccountID string            `json:"destinationAccountId" validate:"required"`
	Amount               decimal.Decimal   `json:"amount" validate:"required"`
	Currency             string            `json:"currency" validate:"required,len=3"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Validate rejects inputs the contract forbids outright: non-positive
// amounts and self-transfers.
func (in *TransferInput) Validate() error {
	if in.Amount.Sign() <= 0 {
		return NewError(ErrCodeTransferCreationFailed, "transfer amount must be positive")
	}
	if in.SourceAccountID == in.DestinationAccountID {
		return NewError(ErrCodeTransferCreationFailed, "source and destination accounts must differ")
	}
	return nil
}
