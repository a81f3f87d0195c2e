package ledger

import "encoding/json"

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the ledger node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ProviderDescriptor describes one compute provider as advertised on the
// ledger's service market. Descriptors are produced fresh on every listing
// call and never persisted; a provider that changes its endpoint simply
// shows up as a new descriptor next time.
type ProviderDescriptor struct {
	// Provider is the provider's opaque ledger address.
	Provider string `json:"provider"`
	Endpoint string `json:"url"`
	Model    string `json:"model"`
	// Verifiable reports whether the provider runs in a mode whose
	// responses carry an authenticity proof.
	Verifiable bool `json:"verifiable"`
}

// Metadata is the authoritative endpoint/model pair a provider reports for
// itself, which may differ from what the market listing advertises.
type Metadata struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// Account is the prepaid ledger account state for our wallet.
type Account struct {
	// Balance is the total balance in base units (1e-9 token).
	Balance int64 `json:"balance"`
	// Locked is the portion reserved by in-flight provider settlements.
	Locked int64 `json:"locked"`
}
