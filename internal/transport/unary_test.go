package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// newTestUnary starts an httptest server running handler and returns a
// client authorised with token "secret".
func newTestUnary(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, StaticToken("secret"), 2*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_StartSession(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, protocol.SessionStarted{SessionID: "s-1", Message: "ok"})
	})

	started, err := c.StartSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.SessionID != "s-1" {
		t.Errorf("expected session s-1, got %q", started.SessionID)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/session/start" {
		t.Errorf("expected POST /api/session/start, got %s %s", gotMethod, gotPath)
	}
}

func TestHTTPClient_StartSession_MissingID(t *testing.T) {
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, protocol.SessionStarted{})
	})

	_, err := c.StartSession(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		body protocol.ErrorResponse
		want error
	}{
		{"unauthorized", http.StatusUnauthorized, protocol.ErrorResponse{Error: "bad token"}, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, protocol.ErrorResponse{}, ErrUnauthorized},
		{"no_active_session", http.StatusBadRequest, protocol.ErrorResponse{Error: "No active session"}, ErrNoActiveSession},
		{"bad_request", http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid days"}, ErrRejected},
		{"gateway_timeout", http.StatusGatewayTimeout, protocol.ErrorResponse{}, ErrTimeout},
		{"server_error", http.StatusInternalServerError, protocol.ErrorResponse{Error: "boom"}, ErrTransportUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, tt.body)
			})
			_, err := c.EndSession(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPClient_NonJSONIsMalformed(t *testing.T) {
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login</html>"))
	})

	_, err := c.Runtime(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestHTTPClient_MissingCredential(t *testing.T) {
	called := false
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	c.creds = StaticToken("")

	_, err := c.Runtime(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Error("expected no request without a credential")
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Runtime(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, StaticToken("secret"), time.Second)
	_, err := c.Runtime(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestHTTPClient_PeriodQuery(t *testing.T) {
	var gotQuery string
	c := newTestUnary(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, protocol.SessionsResponse{
			Sessions: []protocol.SessionRecord{{ID: "a"}, {ID: "b"}},
		})
	})

	sessions, err := c.Sessions(context.Background(), protocol.DateRange("2026-01-01", "2026-01-07"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}
	if gotQuery != "end_date=2026-01-07&start_date=2026-01-01" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}
