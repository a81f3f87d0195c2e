// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/orbis-social/compute-broker/internal/ledger"
)

// MockLedger is a test implementation of the ledger.Client interface.
type MockLedger struct {
	mu sync.Mutex

	balance   int64
	locked    int64
	providers []ledger.ProviderDescriptor
	metadata  map[string]ledger.Metadata

	// Error overrides. Nil means the operation succeeds.
	BalanceErr     error
	FundErr        error
	ProvidersErr   error
	AcknowledgeErr error
	MetadataErr    error
	MintErr        error

	// FundDelta is credited to the balance on each successful Fund call,
	// regardless of the requested amount, so tests can model top-ups that
	// race with concurrent spend.
	FundDelta int64

	balanceCalls int
	fundCalls    int
	ackCalls     map[string]int
	mintCalls    int
}

// NewMockLedger creates a mock ledger with the given starting balance.
func NewMockLedger(balance int64) *MockLedger {
	return &MockLedger{
		balance:  balance,
		metadata: make(map[string]ledger.Metadata),
		ackCalls: make(map[string]int),
	}
}

// SetBalance sets the current balance.
func (m *MockLedger) SetBalance(balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
}

// SetProviders sets the provider listing.
func (m *MockLedger) SetProviders(providers ...ledger.ProviderDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = providers
}

// SetMetadata sets the authoritative metadata for a provider.
func (m *MockLedger) SetMetadata(provider string, md ledger.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[provider] = md
}

// BalanceCalls returns how many times Balance was called.
func (m *MockLedger) BalanceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceCalls
}

// FundCalls returns how many times Fund was called.
func (m *MockLedger) FundCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fundCalls
}

// AckCalls returns how many times a provider was acknowledged.
func (m *MockLedger) AckCalls(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ackCalls[provider]
}

// MintCalls returns how many times auth headers were minted.
func (m *MockLedger) MintCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintCalls
}

// Balance implements ledger.Client.
func (m *MockLedger) Balance(_ context.Context) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	if m.BalanceErr != nil {
		return ledger.Account{}, m.BalanceErr
	}
	return ledger.Account{Balance: m.balance, Locked: m.locked}, nil
}

// Fund implements ledger.Client.
func (m *MockLedger) Fund(_ context.Context, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundCalls++
	if m.FundErr != nil {
		return m.FundErr
	}
	if m.FundDelta != 0 {
		m.balance += m.FundDelta
	} else {
		m.balance += amount
	}
	return nil
}

// Providers implements ledger.Client.
func (m *MockLedger) Providers(_ context.Context) ([]ledger.ProviderDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProvidersErr != nil {
		return nil, m.ProvidersErr
	}
	out := make([]ledger.ProviderDescriptor, len(m.providers))
	copy(out, m.providers)
	return out, nil
}

// Acknowledge implements ledger.Client.
func (m *MockLedger) Acknowledge(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackCalls[provider]++
	return m.AcknowledgeErr
}

// Metadata implements ledger.Client.
func (m *MockLedger) Metadata(_ context.Context, provider string) (ledger.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetadataErr != nil {
		return ledger.Metadata{}, m.MetadataErr
	}
	md, ok := m.metadata[provider]
	if !ok {
		return ledger.Metadata{}, fmt.Errorf("unknown provider: %s", provider)
	}
	return md, nil
}

// MintAuthHeaders implements ledger.Client.
func (m *MockLedger) MintAuthHeaders(_ context.Context, provider, payloadDigest string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintCalls++
	if m.MintErr != nil {
		return nil, m.MintErr
	}
	return map[string]string{
		ledger.AuthTokenHeader: fmt.Sprintf("Bearer mock-%s-%s-%d", provider, payloadDigest, m.mintCalls),
		ledger.NonceHeader:     fmt.Sprintf("nonce-%d", m.mintCalls),
	}, nil
}

var _ ledger.Client = (*MockLedger)(nil)
