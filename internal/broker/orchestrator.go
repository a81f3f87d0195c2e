// Package broker implements request orchestration for the decentralized
// compute network: ranked sequential failover across providers, per-attempt
// deadlines, shared fault classification, and best-effort response
// verification.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/orbis-social/compute-broker/internal/classify"
	"github.com/orbis-social/compute-broker/internal/ledger"
	"github.com/orbis-social/compute-broker/internal/metrics"
	"github.com/orbis-social/compute-broker/internal/session"
	"github.com/orbis-social/compute-broker/internal/transport"
)

// Transport posts one JSON payload to a provider endpoint under the
// caller's context deadline.
type Transport interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) (json.RawMessage, error)
}

// Preparer sets up one provider session per attempt.
type Preparer interface {
	Prepare(ctx context.Context, desc ledger.ProviderDescriptor, payloadDigest string) (session.Session, error)
}

// errNoCandidates is the terminal error for an empty ranked list.
var errNoCandidates = errors.New("no candidate providers")

// Orchestrator runs the per-request failover state machine. It holds no
// per-request state and is safe for concurrent Execute calls.
type Orchestrator struct {
	sessions  Preparer
	transport Transport
	verifier  Verifier
	log       zerolog.Logger
	opPath    string
}

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	Sessions  Preparer
	Transport Transport
	// Verifier is optional; nil disables response verification and all
	// results report Verified=false.
	Verifier Verifier
	Logger   zerolog.Logger
	// OperationPath is appended to each provider endpoint.
	OperationPath string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session preparer required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if cfg.OperationPath == "" {
		return nil, fmt.Errorf("operation path required")
	}

	return &Orchestrator{
		sessions:  cfg.Sessions,
		transport: cfg.Transport,
		verifier:  cfg.Verifier,
		log:       cfg.Logger.With().Str("component", "orchestrator").Logger(),
		opPath:    cfg.OperationPath,
	}, nil
}

// Execute tries candidates in ranked order until one succeeds. Attempts are
// strictly sequential: a later provider is never started before the earlier
// one has definitively failed or timed out, which bounds the load on any
// single provider and keeps ledger accounting coherent within one call.
//
// Every failure is classified and every classification advances to the next
// candidate. A deadline is retryable-busy; even a non-retryable kind such
// as a provider-reported funding shortage only skips that provider, because
// per-provider fee requirements can differ. Only exhausting the ranked list
// is terminal.
func (o *Orchestrator) Execute(ctx context.Context, env Envelope, discovered []ledger.ProviderDescriptor) (Result, error) {
	requestID := uuid.New().String()
	timeout := env.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	candidates := rank(env.Priority, discovered)
	if len(candidates) == 0 {
		return Result{}, &ExhaustedError{LastErr: errNoCandidates}
	}

	start := time.Now()
	digest := session.Digest(env.Payload)
	attempts := make([]Attempt, 0, len(candidates))

	for i, desc := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		rec := Attempt{Provider: desc.Provider, StartedAt: time.Now()}
		body, sess, err := o.try(ctx, desc, digest, env.Payload, timeout)
		rec.Elapsed = time.Since(rec.StartedAt)

		if err == nil {
			metrics.RecordAttempt("success", "", rec.Elapsed)
			return o.finish(ctx, requestID, desc, sess, body, len(attempts)+1, start), nil
		}

		// Caller cancellation is not a provider failure; abort cleanly.
		// The single-use headers minted for this attempt die with it.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		c := classify.Classify(err.Error(), transport.Code(err))
		rec.Kind = c.Kind
		rec.Err = err
		attempts = append(attempts, rec)
		metrics.RecordAttempt("failure", string(c.Kind), rec.Elapsed)

		o.log.Warn().
			Str("request_id", requestID).
			Str("provider", desc.Provider).
			Str("kind", string(c.Kind)).
			Bool("retryable", c.Retryable).
			Dur("elapsed", rec.Elapsed).
			Err(err).
			Msg("provider attempt failed")

		if i < len(candidates)-1 {
			metrics.RecordFailover()
		}
	}

	last := attempts[len(attempts)-1]
	return Result{}, &ExhaustedError{Attempts: attempts, LastErr: last.Err}
}

// try runs one attempt: session setup, then the deadline-bound transport
// call. The deadline covers only the transport call; session setup is
// bounded by the ledger client's own timeout.
func (o *Orchestrator) try(ctx context.Context, desc ledger.ProviderDescriptor, digest string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, session.Session, error) {
	sess, err := o.sessions.Prepare(ctx, desc, digest)
	if err != nil {
		return nil, session.Session{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := o.transport.PostJSON(callCtx, sess.Endpoint+o.opPath, sess.Headers, payload)
	if err != nil {
		return nil, session.Session{}, err
	}
	return body, sess, nil
}

// finish assembles the success result, including the non-fatal
// verification flag and best-effort usage accounting.
func (o *Orchestrator) finish(ctx context.Context, requestID string, desc ledger.ProviderDescriptor, sess session.Session, body json.RawMessage, attempts int, start time.Time) Result {
	verified := false
	if desc.Verifiable && o.verifier != nil {
		verified = o.verifier.Check(ctx, desc.Provider, body)
	}

	res := Result{
		RequestID: requestID,
		Provider:  desc.Provider,
		Model:     sess.Model,
		Verified:  verified,
		Body:      body,
		Usage:     parseUsage(body),
		Attempts:  attempts,
		Elapsed:   time.Since(start),
	}

	o.log.Info().
		Str("request_id", requestID).
		Str("provider", desc.Provider).
		Str("model", sess.Model).
		Bool("verified", verified).
		Int("attempts", attempts).
		Dur("elapsed", res.Elapsed).
		Msg("request completed")
	return res
}

// parseUsage pulls token accounting out of a provider response if present.
func parseUsage(body []byte) Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Usage{}
	}
	return Usage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
}
