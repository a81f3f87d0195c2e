// Package funds keeps the prepaid ledger account above the spend threshold.
//
// The ledger balance is shared mutable state owned by the external ledger:
// concurrent requests can spend it between any two reads. The manager
// therefore never caches a balance across calls and always re-reads after
// funding instead of trusting its own delta.
package funds

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/orbis-social/compute-broker/internal/classify"
	"github.com/orbis-social/compute-broker/internal/ledger"
	"github.com/orbis-social/compute-broker/internal/metrics"
)

// maxFundingAttempts bounds top-ups per Ensure call so a broken ledger
// cannot trap us in a funding loop.
const maxFundingAttempts = 2

// Manager tops up the prepaid account when it drops below threshold.
type Manager struct {
	ledger  ledger.Client
	log     zerolog.Logger
	topUp   int64
	limiter *rate.Limiter
}

// Config holds balance manager configuration.
type Config struct {
	Ledger ledger.Client
	Logger zerolog.Logger
	// TopUpIncrement is the amount of one funding call, in base units.
	TopUpIncrement int64
	// FundingInterval is the minimum spacing between funding calls across
	// all concurrent requests. Zero disables the limiter.
	FundingInterval time.Duration
}

// NewManager creates a balance manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client required")
	}
	if cfg.TopUpIncrement <= 0 {
		return nil, fmt.Errorf("top-up increment must be positive, got %d", cfg.TopUpIncrement)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.FundingInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.FundingInterval), 1)
	}

	return &Manager{
		ledger:  cfg.Ledger,
		log:     cfg.Logger.With().Str("component", "funds").Logger(),
		topUp:   cfg.TopUpIncrement,
		limiter: limiter,
	}, nil
}

// FundingError reports a funding attempt that failed with a non-retryable
// classification. Retryable funding failures never surface as errors; the
// request proceeds and the downstream call fails naturally if the balance
// really is short.
type FundingError struct {
	Kind classify.Kind
	Err  error
}

func (e *FundingError) Error() string {
	return fmt.Sprintf("funding failed (%s): %v", e.Kind, e.Err)
}

func (e *FundingError) Unwrap() error {
	return e.Err
}

// Ensure brings the spendable balance up to at least minThreshold, funding
// in configured increments, and returns the freshest balance it observed.
// The balance is re-read from the ledger immediately before every threshold
// comparison; a top-up racing with concurrent spend is resolved by the
// re-read, not by arithmetic on our side.
func (m *Manager) Ensure(ctx context.Context, minThreshold int64) (int64, error) {
	account, err := m.ledger.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	spendable := account.Balance - account.Locked
	metrics.SetLedgerBalance(spendable)
	if spendable >= minThreshold {
		return spendable, nil
	}

	for attempt := 1; attempt <= maxFundingAttempts; attempt++ {
		if !m.limiter.Allow() {
			// Another request funded recently; the re-read below
			// picks up whatever it deposited.
			m.log.Debug().Int64("spendable", spendable).Msg("funding rate-limited, proceeding on re-read")
		} else if err := m.fund(ctx); err != nil {
			c := classify.ClassifyError(err)
			if !c.Retryable {
				return spendable, &FundingError{Kind: c.Kind, Err: err}
			}
			m.log.Warn().
				Err(err).
				Str("kind", string(c.Kind)).
				Int("attempt", attempt).
				Msg("funding failed, proceeding with current balance")
			return spendable, nil
		}

		account, err = m.ledger.Balance(ctx)
		if err != nil {
			return 0, fmt.Errorf("re-read balance after funding: %w", err)
		}
		spendable = account.Balance - account.Locked
		metrics.SetLedgerBalance(spendable)
		if spendable >= minThreshold {
			return spendable, nil
		}
	}

	// Both attempts landed and the balance is still short, most likely
	// because concurrent requests are spending faster than we fund. Let
	// the downstream call decide.
	m.log.Warn().
		Int64("spendable", spendable).
		Int64("threshold", minThreshold).
		Msg("balance still below threshold after funding, proceeding")
	return spendable, nil
}

func (m *Manager) fund(ctx context.Context) error {
	metrics.RecordFundingAttempt()
	return m.ledger.Fund(ctx, m.topUp)
}
