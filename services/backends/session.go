package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/upb/llm-router/services"
)

// maxResponseBytes caps how much of a backend response is read into memory
const maxResponseBytes = 8 << 20

// Session is the long-lived HTTP resource a client acquires in Initialize.
// Every session owns its transport so closing it never touches another client's pool.
type Session struct {
	client  *http.Client
	baseURL string
	header  http.Header
}

// NewSession creates a session rooted at baseURL. header is sent on every request.
func NewSession(baseURL string, timeout time.Duration, header http.Header) *Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &Session{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
	}
}

// BaseURL returns the root every request path is appended to
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Close drops the session's idle connections
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// Response is a fully read backend response
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 200 response
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// PostJSON sends payload as a JSON body and reads the whole response
func (s *Session) PostJSON(ctx context.Context, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return s.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

// Get issues a GET request and reads the whole response
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	return s.do(ctx, http.MethodGet, path, nil)
}

// Probe reports whether GET path answers 200 within timeout
func (s *Session) Probe(ctx context.Context, path string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := s.Get(ctx, path)
	if err != nil {
		return false
	}
	return resp.OK()
}

func (s *Session) do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range s.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		// Refused connections, DNS failures and client timeouts mean the backend is unreachable
		return nil, services.NewDomainError(services.ErrorTypeUnavailable,
			fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

// SessionHolder guards the session a client currently owns. The zero value holds nothing.
type SessionHolder struct {
	mu      sync.RWMutex
	session *Session
}

// Replace installs s, closing the session it replaces
func (h *SessionHolder) Replace(s *Session) {
	h.mu.Lock()
	prev := h.session
	h.session = s
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Current returns the installed session, or nil
func (h *SessionHolder) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Release closes and removes the installed session. It reports whether there was one.
func (h *SessionHolder) Release() bool {
	h.mu.Lock()
	prev := h.session
	h.session = nil
	h.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Close()
	return true
}

// MeasureLatency times one round trip bounded by timeout.
// It returns milliseconds, or -1 when roundTrip fails.
func MeasureLatency(ctx context.Context, timeout time.Duration, roundTrip func(context.Context) error) float64 {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := roundTrip(ctx); err != nil {
		return -1
	}
	return float64(time.Since(start).Microseconds()) / 1000
}
