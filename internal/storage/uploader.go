// Package storage implements the content-upload path. It shares the fault
// taxonomy with the compute orchestrator: a classified upload failure means
// either "try another endpoint", "retry this one after a delay", or "the
// account is out of funds".
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/classify"
	"github.com/orbis-social/compute-broker/internal/transport"
)

// defaultRetryDelay spaces the single same-endpoint retry.
const defaultRetryDelay = 2 * time.Second

// Transport posts one JSON payload under the caller's deadline.
type Transport interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) (json.RawMessage, error)
}

// Funder tops the prepaid account back up; satisfied by funds.Manager.
type Funder interface {
	Ensure(ctx context.Context, minThreshold int64) (int64, error)
}

// Uploader pushes content to storage endpoints with classified failover.
type Uploader struct {
	transport  Transport
	funder     Funder
	log        zerolog.Logger
	retryDelay time.Duration
	threshold  int64
	opPath     string
}

// Config holds uploader configuration.
type Config struct {
	Transport Transport
	// Funder is optional. When set, an insufficient-funds classification
	// triggers exactly one bounded funding attempt before the retry.
	Funder Funder
	Logger zerolog.Logger
	// RetryDelay spaces the single same-endpoint retry. Zero means the
	// default.
	RetryDelay time.Duration
	// MinThreshold is passed to the funder after a funds failure.
	MinThreshold int64
	// OperationPath is appended to each storage endpoint.
	OperationPath string
}

// NewUploader creates an uploader.
func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if cfg.OperationPath == "" {
		return nil, fmt.Errorf("operation path required")
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	return &Uploader{
		transport:  cfg.Transport,
		funder:     cfg.Funder,
		log:        cfg.Logger.With().Str("component", "storage").Logger(),
		retryDelay: delay,
		threshold:  cfg.MinThreshold,
		opPath:     cfg.OperationPath,
	}, nil
}

// Receipt reports a completed upload.
type Receipt struct {
	Endpoint string
	Response json.RawMessage
}

// Error is the terminal upload failure.
type Error struct {
	Endpoints int
	LastErr   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload failed across %d endpoints, last error: %v", e.Endpoints, e.LastErr)
}

func (e *Error) Unwrap() error {
	return e.LastErr
}

// Upload pushes content to the first endpoint that accepts it. Endpoints
// are tried in order; within one endpoint, a retryable classification earns
// exactly one delayed retry, a funds classification earns one funding
// attempt before that retry, and an unknown classification surfaces
// immediately.
func (u *Uploader) Upload(ctx context.Context, endpoints []string, content interface{}) (Receipt, error) {
	if len(endpoints) == 0 {
		return Receipt{}, fmt.Errorf("no storage endpoints configured")
	}

	var lastErr error
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return Receipt{}, err
		}

		body, err := u.tryEndpoint(ctx, endpoint, content)
		if err == nil {
			return Receipt{Endpoint: endpoint, Response: body}, nil
		}
		lastErr = err

		c := classify.Classify(err.Error(), transport.Code(err))
		u.log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("kind", string(c.Kind)).
			Msg("upload attempt failed")

		// Unknown errors never earn another attempt. A funds failure
		// that survived its one funding attempt is account-wide, so
		// other endpoints would fail the same way.
		if c.Kind == classify.KindUnknown || c.Kind == classify.KindFunds {
			return Receipt{}, &Error{Endpoints: i + 1, LastErr: err}
		}
	}
	return Receipt{}, &Error{Endpoints: len(endpoints), LastErr: lastErr}
}

// tryEndpoint posts to one endpoint with at most one classified retry.
func (u *Uploader) tryEndpoint(ctx context.Context, endpoint string, content interface{}) (json.RawMessage, error) {
	body, err := u.transport.PostJSON(ctx, endpoint+u.opPath, nil, content)
	if err == nil {
		return body, nil
	}

	c := classify.Classify(err.Error(), transport.Code(err))
	switch {
	case c.Kind == classify.KindFunds && u.funder != nil:
		if _, fundErr := u.funder.Ensure(ctx, u.threshold); fundErr != nil {
			return nil, err
		}
	case !c.Retryable:
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(u.retryDelay):
	}
	return u.transport.PostJSON(ctx, endpoint+u.opPath, nil, content)
}
