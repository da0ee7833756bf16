package providers

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of the Provider contract.
type MockProvider struct {
	mock.Mock
	typ Type
}

func (m *MockProvider) Type() Type { return m.typ }

func (m *MockProvider) Authenticate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) IsAuthenticated() bool {
	return m.Called().Bool(0)
}

func (m *MockProvider) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	args := m.Called(ctx, in)
	if c, ok := args.Get(0).(*Customer); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	args := m.Called(ctx, id)
	if c, ok := args.Get(0).(*Customer); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*Customer, error) {
	args := m.Called(ctx, id, in)
	if c, ok := args.Get(0).(*Customer); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) DeleteCustomer(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProvider) LinkAccount(ctx context.Context, customerID string, in LinkAccountInput) (*Account, error) {
	args := m.Called(ctx, customerID, in)
	if a, ok := args.Get(0).(*Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GetAccounts(ctx context.Context, customerID string) ([]Account, error) {
	args := m.Called(ctx, customerID)
	if a, ok := args.Get(0).([]Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GetAccount(ctx context.Context, id string) (*Account, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) UnlinkAccount(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProvider) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	args := m.Called(ctx, accountID)
	if b, ok := args.Get(0).(*Balance); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	args := m.Called(ctx, in)
	if tr, ok := args.Get(0).(*Transfer); ok {
		return tr, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	args := m.Called(ctx, id)
	if tr, ok := args.Get(0).(*Transfer); ok {
		return tr, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) CancelTransfer(ctx context.Context, id string) (*Transfer, error) {
	args := m.Called(ctx, id)
	if tr, ok := args.Get(0).(*Transfer); ok {
		return tr, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) ListTransfers(ctx context.Context, accountID string, limit int) ([]Transfer, error) {
	args := m.Called(ctx, accountID, limit)
	if tr, ok := args.Get(0).([]Transfer); ok {
		return tr, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) HandleWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	args := m.Called(payload, signature)
	if e, ok := args.Get(0).(*WebhookEvent); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}
