package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/funds"
	"github.com/orbis-social/compute-broker/internal/ledger"
)

// Lister discovers the current provider set. Satisfied by
// directory.Directory and, in offline configurations, by StaticLister.
type Lister interface {
	Discover(ctx context.Context) ([]ledger.ProviderDescriptor, error)
}

// Funder keeps the prepaid balance above threshold. Satisfied by
// funds.Manager.
type Funder interface {
	Ensure(ctx context.Context, minThreshold int64) (int64, error)
}

// Engine is the caller-facing surface: one Execute operation plus a
// lightweight Status view. Safe for concurrent use; attempts within one
// call stay sequential, independent calls do not share state beyond the
// external ledger's balance.
type Engine struct {
	funds        Funder
	directory    Lister
	orchestrator *Orchestrator
	ledger       ledger.Client
	minThreshold int64
	log          zerolog.Logger
}

// EngineConfig configures the engine.
type EngineConfig struct {
	Funds        Funder
	Directory    Lister
	Orchestrator *Orchestrator
	Ledger       ledger.Client
	// MinThreshold is the spendable balance required before work starts,
	// in base units.
	MinThreshold int64
	Logger       zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Funds == nil || cfg.Directory == nil || cfg.Orchestrator == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("funds, directory, orchestrator and ledger are all required")
	}
	if cfg.MinThreshold <= 0 {
		return nil, fmt.Errorf("minimum threshold must be positive, got %d", cfg.MinThreshold)
	}

	return &Engine{
		funds:        cfg.Funds,
		directory:    cfg.Directory,
		orchestrator: cfg.Orchestrator,
		ledger:       cfg.Ledger,
		minThreshold: cfg.MinThreshold,
		log:          cfg.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Execute runs one request end to end: balance check, discovery, then the
// ranked failover loop.
//
// Funding problems abort only when the funding attempt itself failed with a
// non-retryable classification; any other balance trouble is logged and the
// request proceeds, letting the downstream call fail naturally if the
// balance really is short.
func (e *Engine) Execute(ctx context.Context, env Envelope) (Result, error) {
	if _, err := e.funds.Ensure(ctx, e.minThreshold); err != nil {
		var fundingErr *funds.FundingError
		if errors.As(err, &fundingErr) {
			return Result{}, err
		}
		e.log.Warn().Err(err).Msg("balance check failed, proceeding")
	}

	providers, err := e.directory.Discover(ctx)
	if err != nil {
		// Nothing to fail over to; terminal for this call.
		return Result{}, err
	}

	return e.orchestrator.Execute(ctx, env, providers)
}

// Status reports whether the broker can currently serve requests. It is
// diagnostic only and never errors: an unreachable ledger shows up as
// configured=false with zero providers.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{Configured: true}

	account, err := e.ledger.Balance(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("status: balance read failed")
		st.Configured = false
	} else {
		st.Balance = account.Balance - account.Locked
	}

	providers, err := e.directory.Discover(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("status: discovery failed")
		st.Configured = false
		return st
	}
	st.Providers = len(providers)
	return st
}
