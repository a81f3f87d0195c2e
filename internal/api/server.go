// Package api exposes the broker over HTTP: one execute operation, a
// status view, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/broker"
	"github.com/orbis-social/compute-broker/internal/directory"
	"github.com/orbis-social/compute-broker/internal/funds"
	"github.com/orbis-social/compute-broker/internal/httputil"
	"github.com/orbis-social/compute-broker/internal/metrics"
	"github.com/orbis-social/compute-broker/internal/middleware"
	"github.com/orbis-social/compute-broker/internal/storage"
)

// Engine is the broker surface the API consumes.
type Engine interface {
	Execute(ctx context.Context, env broker.Envelope) (broker.Result, error)
	Status(ctx context.Context) broker.Status
}

// Uploads is the storage surface the API consumes; satisfied by
// storage.Uploader.
type Uploads interface {
	Upload(ctx context.Context, endpoints []string, content interface{}) (storage.Receipt, error)
}

// Server serves the broker HTTP API.
type Server struct {
	engine           Engine
	uploads          Uploads
	storageEndpoints []string
	log              zerolog.Logger
}

// NewServer creates an API server.
func NewServer(engine Engine, log zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// EnableUploads registers the storage upload route against the given
// endpoints. Without it the route is absent.
func (s *Server) EnableUploads(uploads Uploads, endpoints []string) {
	s.uploads = uploads
	s.storageEndpoints = endpoints
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(), middleware.Logging(s.log))

	r.HandleFunc("/v1/compute/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/v1/compute/status", s.handleStatus).Methods(http.MethodGet)
	if s.uploads != nil {
		r.HandleFunc("/v1/storage/upload", s.handleUpload).Methods(http.MethodPost)
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// ExecuteInput is the execute request body.
type ExecuteInput struct {
	Payload           json.RawMessage `json:"payload"`
	PreferredProvider string          `json:"preferred_provider,omitempty"`
	TimeoutMs         int             `json:"timeout_ms,omitempty"`
}

// ExecuteOutput is the execute response body.
type ExecuteOutput struct {
	OK        bool            `json:"ok"`
	RequestID string          `json:"request_id"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Verified  bool            `json:"verified"`
	Body      json.RawMessage `json:"body"`
	Usage     broker.Usage    `json:"usage"`
	Attempts  int             `json:"attempts"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var input ExecuteInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if len(input.Payload) == 0 {
		httputil.BadRequest(w, "payload required")
		return
	}

	env := broker.Envelope{
		Payload:   input.Payload,
		Timeout:   time.Duration(input.TimeoutMs) * time.Millisecond,
		CreatedAt: time.Now(),
	}
	if input.PreferredProvider != "" {
		env.Priority = []string{input.PreferredProvider}
	}

	result, err := s.engine.Execute(r.Context(), env)
	if err != nil {
		s.writeExecuteError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ExecuteOutput{
		OK:        true,
		RequestID: result.RequestID,
		Provider:  result.Provider,
		Model:     result.Model,
		Verified:  result.Verified,
		Body:      result.Body,
		Usage:     result.Usage,
		Attempts:  result.Attempts,
		ElapsedMs: result.Elapsed.Milliseconds(),
	})
}

// writeExecuteError maps engine failures to responses. Provider-side error
// text is logged but never exposed: provider messages are inconsistent
// enough that a classifier exists, so they make poor user-facing copy.
func (s *Server) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		exhausted  *broker.ExhaustedError
		dirErr     *directory.Error
		fundingErr *funds.FundingError
	)

	switch {
	case errors.Is(err, context.Canceled):
		// Client went away; status code is moot.
		httputil.WriteError(w, http.StatusServiceUnavailable, "request canceled")
	case errors.As(err, &exhausted), errors.As(err, &dirErr), errors.As(err, &fundingErr):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("execute failed")
		httputil.ServiceUnavailable(w, "service unavailable, try again")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("execute failed unexpectedly")
		httputil.InternalError(w, "internal error")
	}
}

// UploadInput is the upload request body.
type UploadInput struct {
	Content json.RawMessage `json:"content"`
}

// UploadOutput is the upload response body.
type UploadOutput struct {
	OK       bool            `json:"ok"`
	Endpoint string          `json:"endpoint"`
	Response json.RawMessage `json:"response"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var input UploadInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if len(input.Content) == 0 {
		httputil.BadRequest(w, "content required")
		return
	}

	receipt, err := s.uploads.Upload(r.Context(), s.storageEndpoints, input.Content)
	if err != nil {
		s.log.Error().Err(err).Msg("upload failed")
		httputil.ServiceUnavailable(w, "upload failed, try again")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, UploadOutput{
		OK:       true,
		Endpoint: receipt.Endpoint,
		Response: receipt.Response,
	})
}

// StatusOutput is the status response body.
type StatusOutput struct {
	Configured bool   `json:"configured"`
	Providers  int    `json:"available_provider_count"`
	Balance    string `json:"balance"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status(r.Context())
	httputil.WriteJSON(w, http.StatusOK, StatusOutput{
		Configured: st.Configured,
		Providers:  st.Providers,
		Balance:    broker.FormatBalance(st.Balance),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
