package services

import (
	"context"

	"github.com/clearfunds/backend/internal/providers"
)

// stubProvider implements the provider contract with overridable behavior
// per method. Unset methods fail loudly so tests only exercise what they
// declare.
type stubProvider struct {
	typ providers.Type

	authenticateFn   func(ctx context.Context) error
	createCustomerFn func(ctx context.Context, in providers.CustomerInput) (*providers.Customer, error)
	getCustomerFn    func(ctx context.Context, id string) (*providers.Customer, error)
	deleteCustomerFn func(ctx context.Context, id string) error
	linkAccountFn    func(ctx context.Context, customerID string, in providers.LinkAccountInput) (*providers.Account, error)
	getAccountsFn    func(ctx context.Context, customerID string) ([]providers.Account, error)
	getBalanceFn     func(ctx context.Context, accountID string) (*providers.Balance, error)
	createTransferFn func(ctx context.Context, in providers.TransferInput) (*providers.Transfer, error)
	getTransferFn    func(ctx context.Context, id string) (*providers.Transfer, error)
	cancelTransferFn func(ctx context.Context, id string) (*providers.Transfer, error)
	listTransfersFn  func(ctx context.Context, accountID string, limit int) ([]providers.Transfer, error)
	handleWebhookFn  func(payload []byte, signature string) (*providers.WebhookEvent, error)
}

func notStubbed(op string) *providers.Error {
	return providers.NewError(providers.ErrCodeNotImplemented, op+" not stubbed")
}

func (s *stubProvider) Type() providers.Type { return s.typ }

func (s *stubProvider) Authenticate(ctx context.Context) error {
	if s.authenticateFn != nil {
		return s.authenticateFn(ctx)
	}
	return nil
}

func (s *stubProvider) IsAuthenticated() bool { return true }

func (s *stubProvider) CreateCustomer(ctx context.Context, in providers.CustomerInput) (*providers.Customer, error) {
	if s.createCustomerFn != nil {
		return s.createCustomerFn(ctx, in)
	}
	return nil, notStubbed("CreateCustomer")
}

func (s *stubProvider) GetCustomer(ctx context.Context, id string) (*providers.Customer, error) {
	if s.getCustomerFn != nil {
		return s.getCustomerFn(ctx, id)
	}
	return nil, notStubbed("GetCustomer")
}

func (s *stubProvider) UpdateCustomer(ctx context.Context, id string, in providers.CustomerInput) (*providers.Customer, error) {
	return nil, notStubbed("UpdateCustomer")
}

func (s *stubProvider) DeleteCustomer(ctx context.Context, id string) error {
	if s.deleteCustomerFn != nil {
		return s.deleteCustomerFn(ctx, id)
	}
	return notStubbed("DeleteCustomer")
}

func (s *stubProvider) LinkAccount(ctx context.Context, customerID string, in providers.LinkAccountInput) (*providers.Account, error) {
	if s.linkAccountFn != nil {
		return s.linkAccountFn(ctx, customerID, in)
	}
	return nil, notStubbed("LinkAccount")
}

func (s *stubProvider) GetAccounts(ctx context.Context, customerID string) ([]providers.Account, error) {
	if s.getAccountsFn != nil {
		return s.getAccountsFn(ctx, customerID)
	}
	return nil, notStubbed("GetAccounts")
}

func (s *stubProvider) GetAccount(ctx context.Context, id string) (*providers.Account, error) {
	return nil, notStubbed("GetAccount")
}

func (s *stubProvider) UnlinkAccount(ctx context.Context, id string) error {
	return notStubbed("UnlinkAccount")
}

func (s *stubProvider) GetBalance(ctx context.Context, accountID string) (*providers.Balance, error) {
	if s.getBalanceFn != nil {
		return s.getBalanceFn(ctx, accountID)
	}
	return nil, notStubbed("GetBalance")
}

func (s *stubProvider) CreateTransfer(ctx context.Context, in providers.TransferInput) (*providers.Transfer, error) {
	if s.createTransferFn != nil {
		return s.createTransferFn(ctx, in)
	}
	return nil, notStubbed("CreateTransfer")
}

func (s *stubProvider) GetTransfer(ctx context.Context, id string) (*providers.Transfer, error) {
	if s.getTransferFn != nil {
		return s.getTransferFn(ctx, id)
	}
	return nil, notStubbed("GetTransfer")
}

func (s *stubProvider) CancelTransfer(ctx context.Context, id string) (*providers.Transfer, error) {
	if s.cancelTransferFn != nil {
		return s.cancelTransferFn(ctx, id)
	}
	return nil, notStubbed("CancelTransfer")
}

func (s *stubProvider) ListTransfers(ctx context.Context, accountID string, limit int) ([]providers.Transfer, error) {
	if s.listTransfersFn != nil {
		return s.listTransfersFn(ctx, accountID, limit)
	}
	return nil, notStubbed("ListTransfers")
}

func (s *stubProvider) HandleWebhook(payload []byte, signature string) (*providers.WebhookEvent, error) {
	if s.handleWebhookFn != nil {
		return s.handleWebhookFn(payload, signature)
	}
	return nil, notStubbed("HandleWebhook")
}
