package ledger

import (
	"context"

	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedgerClient mocks the interfaces.LedgerClient interface
type MockLedgerClient struct {
	mock.Mock
}

// GetBalance mocks the GetBalance method
func (m *MockLedgerClient) GetBalance(ctx context.Context, identity interfaces.Identity) (uint64, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(uint64), args.Error(1)
}

// RequestFunding mocks the RequestFunding method
func (m *MockLedgerClient) RequestFunding(ctx context.Context, identity interfaces.Identity, amount uint64) (interfaces.Receipt, error) {
	args := m.Called(ctx, identity, amount)
	return args.Get(0).(interfaces.Receipt), args.Error(1)
}

// CreateMint mocks the CreateMint method
func (m *MockLedgerClient) CreateMint(ctx context.Context, authority interfaces.Identity, decimals uint8) (interfaces.MintHandle, error) {
	args := m.Called(ctx, authority, decimals)
	return args.Get(0).(interfaces.MintHandle), args.Error(1)
}

// CreateOrGetHoldingAccount mocks the CreateOrGetHoldingAccount method
func (m *MockLedgerClient) CreateOrGetHoldingAccount(ctx context.Context, mint interfaces.MintHandle, owner interfaces.Identity) (interfaces.AccountHandle, error) {
	args := m.Called(ctx, mint, owner)
	return args.Get(0).(interfaces.AccountHandle), args.Error(1)
}

// Issue mocks the Issue method
func (m *MockLedgerClient) Issue(ctx context.Context, mint interfaces.MintHandle, account interfaces.AccountHandle, quantity uint64) (interfaces.Receipt, error) {
	args := m.Called(ctx, mint, account, quantity)
	return args.Get(0).(interfaces.Receipt), args.Error(1)
}
