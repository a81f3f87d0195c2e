package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/broker"
	"github.com/orbis-social/compute-broker/internal/directory"
	"github.com/orbis-social/compute-broker/internal/storage"
)

// stubEngine scripts Execute and Status results.
type stubEngine struct {
	result broker.Result
	err    error
	status broker.Status

	lastEnv broker.Envelope
}

func (s *stubEngine) Execute(_ context.Context, env broker.Envelope) (broker.Result, error) {
	s.lastEnv = env
	return s.result, s.err
}

func (s *stubEngine) Status(context.Context) broker.Status {
	return s.status
}

func doRequest(t *testing.T, eng Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(eng, zerolog.Nop())
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleExecuteSuccess(t *testing.T) {
	eng := &stubEngine{
		result: broker.Result{
			RequestID: "req-1",
			Provider:  "0xp2",
			Model:     "m1",
			Verified:  true,
			Body:      json.RawMessage(`{"text":"ok"}`),
			Attempts:  2,
		},
	}

	rec := doRequest(t, eng, "POST", "/v1/compute/execute",
		`{"payload":{"prompt":"hi"},"preferred_provider":"0xp2","timeout_ms":5000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out ExecuteOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.OK || out.Provider != "0xp2" || !out.Verified || out.Attempts != 2 {
		t.Fatalf("output = %+v", out)
	}

	if len(eng.lastEnv.Priority) != 1 || eng.lastEnv.Priority[0] != "0xp2" {
		t.Fatalf("priority = %v", eng.lastEnv.Priority)
	}
	if eng.lastEnv.Timeout.Milliseconds() != 5000 {
		t.Fatalf("timeout = %v", eng.lastEnv.Timeout)
	}
}

func TestHandleExecuteMapsExhaustionTo503(t *testing.T) {
	eng := &stubEngine{
		err: &broker.ExhaustedError{LastErr: context.DeadlineExceeded},
	}

	rec := doRequest(t, eng, "POST", "/v1/compute/execute", `{"payload":{}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	// Raw provider error text must not leak.
	if strings.Contains(rec.Body.String(), "deadline") {
		t.Fatalf("provider error leaked: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "service unavailable") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestHandleExecuteMapsDirectoryErrorTo503(t *testing.T) {
	eng := &stubEngine{
		err: &directory.Error{Err: context.DeadlineExceeded},
	}
	rec := doRequest(t, eng, "POST", "/v1/compute/execute", `{"payload":{}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleExecuteValidation(t *testing.T) {
	eng := &stubEngine{}

	rec := doRequest(t, eng, "POST", "/v1/compute/execute", `{notjson`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad JSON", rec.Code)
	}

	rec = doRequest(t, eng, "POST", "/v1/compute/execute", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing payload", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	eng := &stubEngine{
		status: broker.Status{Configured: true, Providers: 3, Balance: 101_000_000},
	}

	rec := doRequest(t, eng, "GET", "/v1/compute/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var out StatusOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Configured || out.Providers != 3 || out.Balance != "0.101" {
		t.Fatalf("output = %+v", out)
	}
}

// stubUploads scripts Upload results.
type stubUploads struct {
	receipt storage.Receipt
	err     error

	lastEndpoints []string
}

func (s *stubUploads) Upload(_ context.Context, endpoints []string, _ interface{}) (storage.Receipt, error) {
	s.lastEndpoints = endpoints
	return s.receipt, s.err
}

func TestHandleUpload(t *testing.T) {
	ups := &stubUploads{
		receipt: storage.Receipt{
			Endpoint: "http://store-1",
			Response: json.RawMessage(`{"cid":"abc"}`),
		},
	}
	srv := NewServer(&stubEngine{}, zerolog.Nop())
	srv.EnableUploads(ups, []string{"http://store-1", "http://store-2"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/storage/upload", strings.NewReader(`{"content":{"data":"x"}}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out UploadOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.Endpoint != "http://store-1" {
		t.Fatalf("output = %+v", out)
	}
	if len(ups.lastEndpoints) != 2 {
		t.Fatalf("endpoints = %v", ups.lastEndpoints)
	}
}

func TestHandleUploadFailure(t *testing.T) {
	ups := &stubUploads{err: &storage.Error{Endpoints: 1, LastErr: context.DeadlineExceeded}}
	srv := NewServer(&stubEngine{}, zerolog.Nop())
	srv.EnableUploads(ups, []string{"http://store-1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/storage/upload", strings.NewReader(`{"content":"x"}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestUploadRouteAbsentWithoutUploads(t *testing.T) {
	rec := doRequest(t, &stubEngine{}, "POST", "/v1/storage/upload", `{"content":"x"}`)
	if rec.Code == http.StatusOK {
		t.Fatalf("upload route registered without an uploader")
	}
}

func TestHandleHealth(t *testing.T) {
	rec := doRequest(t, &stubEngine{}, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, &stubEngine{}, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
