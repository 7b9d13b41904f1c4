package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// HTTPClient is the unary request/response channel. Each call is
// independent and carries the bearer credential.
type HTTPClient struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

// NewHTTPClient creates a unary client for the server at baseURL.
// timeout bounds every call; zero means no client-side bound beyond ctx.
func NewHTTPClient(baseURL string, creds Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartSession asks the server to open a new session.
func (c *HTTPClient) StartSession(ctx context.Context) (*protocol.SessionStarted, error) {
	out := &protocol.SessionStarted{}
	if err := c.do(ctx, http.MethodPost, "/api/session/start", nil, nil, out); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("start session: missing session_id: %w", ErrMalformedResponse)
	}
	return out, nil
}

// EndSession asks the server to end its current session. A server with
// nothing to end yields ErrNoActiveSession.
func (c *HTTPClient) EndSession(ctx context.Context) (*protocol.EndSummary, error) {
	out := &protocol.EndSummary{}
	if err := c.do(ctx, http.MethodPost, "/api/session/end", nil, nil, out); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return out, nil
}

// Runtime fetches the authoritative runtime of the active session.
func (c *HTTPClient) Runtime(ctx context.Context) (*protocol.RuntimeStatus, error) {
	out := &protocol.RuntimeStatus{}
	if err := c.do(ctx, http.MethodGet, "/api/session/runtime", nil, nil, out); err != nil {
		return nil, fmt.Errorf("get runtime: %w", err)
	}
	return out, nil
}

// Stats fetches the aggregate statistics for the period.
func (c *HTTPClient) Stats(ctx context.Context, period protocol.Period) (*protocol.AggregateStats, error) {
	out := &protocol.AggregateStats{}
	if err := c.do(ctx, http.MethodGet, "/api/stats", period.Values(), nil, out); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return out, nil
}

// Sessions lists the sessions started within the period.
func (c *HTTPClient) Sessions(ctx context.Context, period protocol.Period) ([]protocol.SessionRecord, error) {
	out := &protocol.SessionsResponse{}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", period.Values(), nil, out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out.Sessions, nil
}

// Events lists the drowsiness events logged within the period.
func (c *HTTPClient) Events(ctx context.Context, period protocol.Period) ([]protocol.DrowsinessEvent, error) {
	out := &protocol.EventsResponse{}
	if err := c.do(ctx, http.MethodGet, "/api/events", period.Values(), nil, out); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out.Events, nil
}

// AddEvent records a drowsiness event against the server's current session.
func (c *HTTPClient) AddEvent(ctx context.Context, req protocol.AddEventRequest) (*protocol.AddEventResponse, error) {
	out := &protocol.AddEventResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/events/add", nil, req, out); err != nil {
		return nil, fmt.Errorf("add event: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	auth, err := bearer(ctx, c.creds)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %v: %w", err, ErrTransportUnavailable)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, classifyCallError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %v: %w", err, classifyCallError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%s %s: content type %q: %w", method, path, resp.Header.Get("Content-Type"), ErrMalformedResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrMalformedResponse)
	}
	return nil
}

// statusError maps a non-2xx reply onto an error kind, keeping the
// server's message when it sent one.
func statusError(code int, body []byte) error {
	var er protocol.ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Error
	if msg == "" {
		msg = er.Message
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("status %d: %s: %w", code, msg, ErrUnauthorized)
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "no active session"):
		return fmt.Errorf("status %d: %s: %w", code, msg, ErrNoActiveSession)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fmt.Errorf("status %d: %s: %w", code, msg, ErrTimeout)
	case code >= 500:
		return fmt.Errorf("status %d: %s: %w", code, msg, ErrTransportUnavailable)
	default:
		return fmt.Errorf("status %d: %s: %w", code, msg, ErrRejected)
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
