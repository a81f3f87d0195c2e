// Package transport provides the deadline-bound JSON POST client used for
// provider calls. The caller owns the deadline through its context; the
// client's only jobs are wire plumbing and turning failures into errors the
// classifier can read.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 8 << 20

// Client posts JSON payloads to provider endpoints.
type Client struct {
	httpClient *http.Client
}

// Config holds transport configuration.
type Config struct {
	// MaxIdleConns bounds the connection pool. Zero means the
	// http.DefaultTransport value.
	MaxIdleConns int
}

// NewClient creates a transport client. Request deadlines come from the
// caller's context, deliberately not from http.Client.Timeout, so one slow
// provider attempt cannot outlive the orchestrator's per-attempt budget.
func NewClient(cfg Config) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		tr.MaxIdleConns = cfg.MaxIdleConns
	}
	return &Client{
		httpClient: &http.Client{Transport: tr},
	}
}

// StatusError reports a non-2xx provider response. The message carries the
// status code and body so classification can key off either.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Body)
}

// PostJSON posts body as JSON to url with the given headers and returns the
// raw response body. The context deadline bounds the whole exchange and
// cancellation aborts the in-flight request.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}
	return respBody, nil
}

// =============================================================================
// Error Codes
// =============================================================================

// Code maps a transport error to the failure code vocabulary the classifier
// understands. Returns empty for errors with no transport-level code.
func Code(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "ETIMEDOUT"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "ECONNREFUSED"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "ECONNRESET"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusBadGateway:
			return "502"
		case http.StatusServiceUnavailable:
			return "503"
		}
	}
	return ""
}

// IsDeadline reports whether err was caused by an expired deadline.
func IsDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
