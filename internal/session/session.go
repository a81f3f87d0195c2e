// Package session performs per-provider, per-request setup: provider
// acknowledgment, authoritative metadata resolution, and single-use
// authentication material bound to one request payload.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/ledger"
)

// Preparer sets up provider sessions.
type Preparer struct {
	ledger ledger.Client
	log    zerolog.Logger
}

// New creates a session preparer.
func New(client ledger.Client, log zerolog.Logger) *Preparer {
	return &Preparer{
		ledger: client,
		log:    log.With().Str("component", "session").Logger(),
	}
}

// Session is everything required to issue one authenticated request to one
// provider. The auth headers are single-use: they are bound to the payload
// digest and must be discarded with the attempt that minted them, whether
// it completes or aborts.
type Session struct {
	Provider string
	Endpoint string
	Model    string
	Headers  map[string]string
}

// Digest returns the payload digest auth headers are bound to.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Prepare runs the three setup steps against one provider.
//
// Acknowledgment is idempotent on the provider side and a failure here is
// non-fatal: the usual cause is that the account is already acknowledged.
// Metadata resolution and header minting failures are fatal for this
// provider and propagate to the orchestrator for classification.
func (p *Preparer) Prepare(ctx context.Context, desc ledger.ProviderDescriptor, payloadDigest string) (Session, error) {
	if err := p.ledger.Acknowledge(ctx, desc.Provider); err != nil {
		p.log.Warn().
			Err(err).
			Str("provider", desc.Provider).
			Msg("provider acknowledgment failed, assuming already acknowledged")
	}

	endpoint := desc.Endpoint
	model := desc.Model
	md, err := p.ledger.Metadata(ctx, desc.Provider)
	if err != nil {
		return Session{}, fmt.Errorf("resolve metadata for %s: %w", desc.Provider, err)
	}
	// The provider's own report wins over the market listing.
	if md.Endpoint != "" {
		endpoint = md.Endpoint
	}
	if md.Model != "" {
		model = md.Model
	}

	headers, err := p.ledger.MintAuthHeaders(ctx, desc.Provider, payloadDigest)
	if err != nil {
		return Session{}, fmt.Errorf("mint auth headers for %s: %w", desc.Provider, err)
	}

	return Session{
		Provider: desc.Provider,
		Endpoint: endpoint,
		Model:    model,
		Headers:  headers,
	}, nil
}
