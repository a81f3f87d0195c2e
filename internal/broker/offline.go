package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/orbis-social/compute-broker/internal/ledger"
)

// Offline support: an explicit, injectable stand-in provider for test and
// offline configurations. It is wired only when the deployment opts in;
// production ranking never mixes it with real providers.

// OfflineProvider is the descriptor the static lister advertises.
var OfflineProvider = ledger.ProviderDescriptor{
	Provider: "offline",
	Endpoint: "http://offline.invalid",
	Model:    "offline-echo",
}

// StaticLister serves a fixed provider list without touching the ledger.
type StaticLister struct {
	Providers []ledger.ProviderDescriptor
}

// Discover implements Lister.
func (s *StaticLister) Discover(context.Context) ([]ledger.ProviderDescriptor, error) {
	out := make([]ledger.ProviderDescriptor, len(s.Providers))
	copy(out, s.Providers)
	return out, nil
}

// OfflineTransport answers every post with a canned echo response instead
// of performing network I/O.
type OfflineTransport struct{}

// PostJSON implements Transport.
func (OfflineTransport) PostJSON(ctx context.Context, _ string, _ map[string]string, body interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	resp := struct {
		Model string          `json:"model"`
		Echo  json.RawMessage `json:"echo"`
	}{
		Model: OfflineProvider.Model,
		Echo:  payload,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal echo response: %w", err)
	}
	return out, nil
}

// OfflineLedger is a self-contained ledger stand-in so an offline broker
// needs no ledger node at all.
type OfflineLedger struct {
	mu      sync.Mutex
	balance int64
}

// NewOfflineLedger creates an offline ledger with the given starting
// balance in base units.
func NewOfflineLedger(balance int64) *OfflineLedger {
	return &OfflineLedger{balance: balance}
}

// Balance implements ledger.Client.
func (l *OfflineLedger) Balance(context.Context) (ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Account{Balance: l.balance}, nil
}

// Fund implements ledger.Client.
func (l *OfflineLedger) Fund(_ context.Context, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	return nil
}

// Providers implements ledger.Client.
func (l *OfflineLedger) Providers(context.Context) ([]ledger.ProviderDescriptor, error) {
	return []ledger.ProviderDescriptor{OfflineProvider}, nil
}

// Acknowledge implements ledger.Client.
func (l *OfflineLedger) Acknowledge(context.Context, string) error {
	return nil
}

// Metadata implements ledger.Client.
func (l *OfflineLedger) Metadata(_ context.Context, provider string) (ledger.Metadata, error) {
	if provider != OfflineProvider.Provider {
		return ledger.Metadata{}, fmt.Errorf("unknown provider: %s", provider)
	}
	return ledger.Metadata{Endpoint: OfflineProvider.Endpoint, Model: OfflineProvider.Model}, nil
}

// MintAuthHeaders implements ledger.Client.
func (l *OfflineLedger) MintAuthHeaders(context.Context, string, string) (map[string]string, error) {
	return map[string]string{"X-Offline": "1"}, nil
}

var (
	_ Lister        = (*StaticLister)(nil)
	_ Transport     = OfflineTransport{}
	_ ledger.Client = (*OfflineLedger)(nil)
)
