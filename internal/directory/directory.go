// Package directory discovers the compute providers currently registered on
// the ledger's service market. Listings are fetched fresh on every call and
// never cached: providers churn, and a stale endpoint is worse than the
// extra round trip.
package directory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/ledger"
)

// Directory lists reachable providers.
type Directory struct {
	ledger ledger.Client
	log    zerolog.Logger
}

// New creates a directory backed by the given ledger client.
func New(client ledger.Client, log zerolog.Logger) *Directory {
	return &Directory{
		ledger: client,
		log:    log.With().Str("component", "directory").Logger(),
	}
}

// Error reports a failed provider listing. There is nothing to fail over to
// when the listing itself is unavailable, so this error is terminal for the
// enclosing request.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider discovery failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Discover returns the current provider listing. Descriptors with no
// endpoint or address are dropped; they cannot be called.
func (d *Directory) Discover(ctx context.Context) ([]ledger.ProviderDescriptor, error) {
	listed, err := d.ledger.Providers(ctx)
	if err != nil {
		return nil, &Error{Err: err}
	}

	providers := make([]ledger.ProviderDescriptor, 0, len(listed))
	for _, p := range listed {
		if p.Provider == "" || p.Endpoint == "" {
			d.log.Debug().Str("provider", p.Provider).Str("endpoint", p.Endpoint).Msg("dropping incomplete descriptor")
			continue
		}
		providers = append(providers, p)
	}

	d.log.Debug().Int("count", len(providers)).Msg("discovered providers")
	return providers, nil
}
