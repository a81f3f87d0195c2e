package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orbis-social/compute-broker/internal/classify"
)

// DefaultTimeout bounds one provider attempt when the envelope does not
// carry its own timeout.
const DefaultTimeout = 20 * time.Second

// Envelope is one logical request for the lifetime of a single Execute
// call. It is never retained afterward.
type Envelope struct {
	// Payload is forwarded to the provider as-is.
	Payload json.RawMessage
	// Priority lists provider addresses to try first, in order.
	Priority []string
	// Timeout bounds each provider attempt. Zero means DefaultTimeout.
	Timeout   time.Duration
	CreatedAt time.Time
}

// Usage carries best-effort accounting parsed from a provider response.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is a successful execution.
type Result struct {
	RequestID string
	Provider  string
	Model     string
	// Verified reports whether the response passed the best-effort
	// authenticity check. An unverified response is still usable.
	Verified bool
	Body     json.RawMessage
	Usage    Usage
	Attempts int
	Elapsed  time.Duration
}

// Attempt records one provider trial within a single Execute call. Records
// live only for the duration of the call and feed the exhaustion report.
type Attempt struct {
	Provider  string
	StartedAt time.Time
	Elapsed   time.Duration
	Kind      classify.Kind
	Err       error
}

// ExhaustedError is returned when every candidate provider has been tried
// and failed. It carries the last underlying error for diagnostics; the
// consuming route layer is expected to map it to a generic unavailability
// response rather than expose raw provider text.
type ExhaustedError struct {
	Attempts []Attempt
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers failed, last error: %v", len(e.Attempts), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// baseUnitsPerToken is the fixed-point scale for ledger balances.
const baseUnitsPerToken = 1_000_000_000

// FormatBalance renders a base-unit balance as a decimal token amount.
func FormatBalance(baseUnits int64) string {
	sign := ""
	if baseUnits < 0 {
		sign = "-"
		baseUnits = -baseUnits
	}

	whole := baseUnits / baseUnitsPerToken
	frac := baseUnits % baseUnitsPerToken
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}

	fracStr := fmt.Sprintf("%09d", frac)
	for len(fracStr) > 1 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}

// Status is the lightweight health view of the broker.
type Status struct {
	Configured bool  `json:"configured"`
	Providers  int   `json:"available_provider_count"`
	Balance    int64 `json:"balance"`
}
