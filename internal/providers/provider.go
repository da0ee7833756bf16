package providers

import "context"

// Provider is the single capability set implemented identically by every
// adapter. Any transport failure, non-2xx response or malformed body
// surfaces as a *Error with a stable code, never a raw transport error.
// Mutating operations are not idempotent at this layer; callers must
// de-duplicate retries themselves.
type Provider interface {
	// Type identifies the adapter within the registry.
	Type() Type

	// Authenticate prepares the adapter for authenticated calls. It is a
	// no-op when valid credentials are already cached.
	Authenticate(ctx context.Context) error
	// IsAuthenticated is a pure function of the cached credential state.
	IsAuthenticated() bool

	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*Customer, error)
	// DeleteCustomer deactivates a customer. Providers never hard-delete.
	DeleteCustomer(ctx context.Context, id string) error

	LinkAccount(ctx context.Context, customerID string, in LinkAccountInput) (*Account, error)
	GetAccounts(ctx context.Context, customerID string) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	UnlinkAccount(ctx context.Context, id string) error
	GetBalance(ctx context.Context, accountID string) (*Balance, error)

	CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error)
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	// CancelTransfer is a best-effort request; the provider may refuse.
	CancelTransfer(ctx context.Context, id string) (*Transfer, error)
	ListTransfers(ctx context.Context, accountID string, limit int) ([]Transfer, error)

	// HandleWebhook verifies the signature over the raw payload and maps
	// the provider topic to a normalized event.
	HandleWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Config is the per-provider construction configuration.
type Config struct {
	BaseURL       string
	Key           string
	Secret        string
	WebhookSecret string
	Environment   string
}

// Validate fails with INVALID_CONFIG before any network call is attempted.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return NewError(ErrCodeInvalidConfig, "provider base URL is required")
	}
	if c.Key == "" {
		return NewError(ErrCodeInvalidConfig, "provider API key is required")
	}
	if c.Secret == "" {
		return NewError(ErrCodeInvalidConfig, "provider API secret is required")
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return NewError(ErrCodeInvalidConfig, "environment must be sandbox or production")
	}
	return nil
}
