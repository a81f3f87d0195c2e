// Package ledger provides the client for the prepaid-account ledger that
// funds and settles decentralized compute requests. The broker talks to the
// ledger for four things: account balance, top-ups, the provider market
// listing, and per-request authentication material.
package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the ledger capability consumed by the broker. It exists as an
// interface so the orchestrator is unit-testable without a ledger node.
type Client interface {
	// Balance returns the current account state. Callers must re-fetch
	// before every spend decision; balances are shared mutable state
	// owned by the ledger, never by us.
	Balance(ctx context.Context) (Account, error)
	// Fund deposits amount base units into the prepaid account.
	Fund(ctx context.Context, amount int64) error
	// Providers lists the currently registered compute providers.
	Providers(ctx context.Context) ([]ProviderDescriptor, error)
	// Acknowledge registers our account with a provider. Idempotent on
	// the provider side; safe to repeat.
	Acknowledge(ctx context.Context, provider string) error
	// Metadata fetches the provider's authoritative endpoint and model.
	Metadata(ctx context.Context, provider string) (Metadata, error)
	// MintAuthHeaders produces single-use authentication headers bound
	// to one request payload digest. Headers must never be reused across
	// requests or providers.
	MintAuthHeaders(ctx context.Context, provider, payloadDigest string) (map[string]string, error)
}

// =============================================================================
// RPC Client
// =============================================================================

// RPCClient talks JSON-RPC 2.0 to a ledger node.
type RPCClient struct {
	rpcURL     string
	account    string
	signingKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// Config holds ledger client configuration.
type Config struct {
	RPCURL  string
	Account string
	// SigningKey signs single-use request tokens. Required for
	// MintAuthHeaders, optional for read-only use.
	SigningKey *ecdsa.PrivateKey
	Timeout    time.Duration
}

// NewRPCClient creates a ledger RPC client.
func NewRPCClient(cfg Config) (*RPCClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger RPC URL required")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("ledger account address required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RPCClient{
		rpcURL:     cfg.RPCURL,
		account:    cfg.Account,
		signingKey: cfg.SigningKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes a raw RPC call to the ledger node.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger node returned status %d: %s", resp.StatusCode, respBody)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// =============================================================================
// Ledger Operations
// =============================================================================

// Balance returns the prepaid account state.
func (c *RPCClient) Balance(ctx context.Context) (Account, error) {
	result, err := c.Call(ctx, "ledger.getAccount", []interface{}{c.account})
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}

	var account Account
	if err := json.Unmarshal(result, &account); err != nil {
		return Account{}, fmt.Errorf("parse account: %w", err)
	}
	return account, nil
}

// Fund deposits amount base units into the prepaid account.
func (c *RPCClient) Fund(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("fund amount must be positive, got %d", amount)
	}
	_, err := c.Call(ctx, "ledger.deposit", []interface{}{c.account, amount})
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Providers lists the currently registered compute providers.
func (c *RPCClient) Providers(ctx context.Context) ([]ProviderDescriptor, error) {
	result, err := c.Call(ctx, "market.listServices", nil)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	var providers []ProviderDescriptor
	if err := json.Unmarshal(result, &providers); err != nil {
		return nil, fmt.Errorf("parse service list: %w", err)
	}
	return providers, nil
}

// Acknowledge registers our account with a provider.
func (c *RPCClient) Acknowledge(ctx context.Context, provider string) error {
	_, err := c.Call(ctx, "market.acknowledgeProvider", []interface{}{c.account, provider})
	if err != nil {
		return fmt.Errorf("acknowledge provider %s: %w", provider, err)
	}
	return nil
}

// Metadata fetches the provider's authoritative endpoint and model.
func (c *RPCClient) Metadata(ctx context.Context, provider string) (Metadata, error) {
	result, err := c.Call(ctx, "market.getServiceMetadata", []interface{}{provider})
	if err != nil {
		return Metadata{}, fmt.Errorf("get metadata for %s: %w", provider, err)
	}

	var md Metadata
	if err := json.Unmarshal(result, &md); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return md, nil
}
