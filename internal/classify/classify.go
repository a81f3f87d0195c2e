// Package classify maps raw provider and ledger errors onto the broker's
// failure taxonomy. Classification drives every retry and failover decision,
// so the rules are kept in one ordered table rather than scattered across
// call sites.
package classify

import "strings"

// Kind identifies a failure category.
type Kind string

const (
	// KindNetwork covers transport-level failures: refused connections,
	// DNS misses, timeouts, gateway errors. Another provider may be fine.
	KindNetwork Kind = "network_error"
	// KindService covers application-level provider faults.
	KindService Kind = "service_error"
	// KindFunds means the paying account cannot cover the operation.
	KindFunds Kind = "insufficient_funds"
	// KindUnknown is anything the rule table does not recognize. Unknown
	// errors are never auto-retried.
	KindUnknown Kind = "unknown"
)

// Classification is the result of classifying one raw error. It is a value
// type, recomputed per error and never cached.
type Classification struct {
	Kind      Kind
	Retryable bool
}

// =============================================================================
// Rule Table
// =============================================================================

// networkCodes are transport-level failure codes reported by HTTP stacks and
// RPC clients.
var networkCodes = map[string]bool{
	"ECONNREFUSED": true,
	"ECONNRESET":   true,
	"ECONNABORTED": true,
	"ENOTFOUND":    true,
	"ETIMEDOUT":    true,
	"503":          true,
	"502":          true,
}

// fundsCodes are codes that explicitly signal an exhausted balance.
var fundsCodes = map[string]bool{
	"INSUFFICIENT_FUNDS":   true,
	"INSUFFICIENT_BALANCE": true,
}

var networkPhrases = []string{
	"service temporarily unavailable",
	"connection refused",
	"connection reset",
	"network error",
	"timeout",
	"timed out",
	"502 bad gateway",
	"503",
	"502",
}

var servicePhrases = []string{
	"upload failed",
	"request failed",
	"node error",
	"remote node",
	"internal server error",
	"already exists",
	"duplicate",
}

// fundsPairs lists phrase conjunctions that identify a funding failure. A
// single token is not enough: "execution reverted" alone is a generic
// contract fault, and "balance" alone appears in plenty of harmless
// messages. Both members must be present.
var fundsPairs = [][2]string{
	{"insufficient", "balance"},
	{"insufficient", "funds"},
	{"execution reverted", "gas"},
	{"execution reverted", "funds"},
}

var fundsPhrases = []string{
	"not enough balance",
	"doesn't have enough funds",
	"does not have enough funds",
	"balance too low",
}

// =============================================================================
// Classification
// =============================================================================

// Classify maps a raw error message and optional error code onto the
// taxonomy. Rules are evaluated in precedence order and the first match
// wins: funds > network > service > unknown. Precedence matters because a
// funding message can contain network-looking substrings, and misreading it
// as transient would burn failover attempts on a structurally doomed
// request.
func Classify(message, code string) Classification {
	msg := strings.ToLower(message)
	cd := strings.ToUpper(strings.TrimSpace(code))

	if isFunds(msg, cd) {
		return Classification{Kind: KindFunds, Retryable: false}
	}
	if isNetwork(msg, cd) {
		return Classification{Kind: KindNetwork, Retryable: true}
	}
	if isService(msg) {
		return Classification{Kind: KindService, Retryable: true}
	}
	return Classification{Kind: KindUnknown, Retryable: false}
}

// ClassifyError is a convenience wrapper for plain error values with no
// side-channel code.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: false}
	}
	return Classify(err.Error(), "")
}

func isFunds(msg, code string) bool {
	if fundsCodes[code] {
		return true
	}
	for _, p := range fundsPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	for _, pair := range fundsPairs {
		if strings.Contains(msg, pair[0]) && strings.Contains(msg, pair[1]) {
			return true
		}
	}
	return false
}

func isNetwork(msg, code string) bool {
	if networkCodes[code] {
		return true
	}
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isService(msg string) bool {
	for _, p := range servicePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
