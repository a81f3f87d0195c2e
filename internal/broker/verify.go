package broker

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Verifier checks the authenticity of a successful provider response. The
// check is a trust signal surfaced to the caller, not a correctness gate:
// implementations must never fail the request, and any internal error maps
// to an unverified result.
type Verifier interface {
	Check(ctx context.Context, provider string, body []byte) bool
}

// ResponseVerifier is the default verifier. It inspects the response body
// for the attestation material verifiable providers attach: a signature
// over the content and the identity of the signing provider.
type ResponseVerifier struct {
	log zerolog.Logger
}

// NewResponseVerifier creates the default verifier.
func NewResponseVerifier(log zerolog.Logger) *ResponseVerifier {
	return &ResponseVerifier{log: log.With().Str("component", "verifier").Logger()}
}

// Check reports whether body carries a plausible attestation from the given
// provider. Panics and malformed bodies are absorbed into false.
func (v *ResponseVerifier) Check(_ context.Context, provider string, body []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Warn().Interface("panic", r).Str("provider", provider).Msg("verifier panicked")
			ok = false
		}
	}()

	if !gjson.ValidBytes(body) {
		return false
	}

	sig := gjson.GetBytes(body, "attestation.signature")
	signer := gjson.GetBytes(body, "attestation.signer")
	if !sig.Exists() || sig.String() == "" {
		return false
	}
	if signer.Exists() && signer.String() != provider {
		v.log.Warn().
			Str("provider", provider).
			Str("signer", signer.String()).
			Msg("attestation signed by a different provider")
		return false
	}
	return true
}

var _ Verifier = (*ResponseVerifier)(nil)
