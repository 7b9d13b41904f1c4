package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/protocol"
)

// maxBodySize caps request bodies accepted by the API.
const maxBodySize = 1 << 20

// HTTPServer serves the unary JSON API.
type HTTPServer struct {
	cfg       config.ServerConfig
	hub       *Hub
	auth      *authenticator
	statsDays int
	server    *http.Server
	listener  net.Listener
}

// NewHTTPServer creates the API server. statsDays is the default period
// for stats, sessions and events when the query names none.
func NewHTTPServer(cfg config.ServerConfig, hub *Hub, statsDays int) *HTTPServer {
	if statsDays < 1 {
		statsDays = 1
	}
	h := &HTTPServer{
		cfg:       cfg,
		hub:       hub,
		auth:      newAuthenticator(cfg.Tokens),
		statsDays: statsDays,
	}
	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return h
}

// Handler returns the API routes.
func (h *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/session/start", h.handleStart)
	api.HandleFunc("POST /api/session/end", h.handleEnd)
	api.HandleFunc("GET /api/session/runtime", h.handleRuntime)
	api.HandleFunc("GET /api/stats", h.handleStats)
	api.HandleFunc("GET /api/sessions", h.handleSessions)
	api.HandleFunc("GET /api/events", h.handleEvents)
	api.HandleFunc("POST /api/events/add", h.handleAddEvent)
	api.HandleFunc("GET /api/export-csv", h.handleExportCSV)
	api.HandleFunc("POST /api/logs/reset", h.handleReset)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/db-status", h.handleDBStatus)
	mux.Handle("/", h.auth.middleware(api))
	return mux
}

// Start binds the configured port and serves in the background.
func (h *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Bind, h.cfg.HTTPPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("HTTP listen on %s: %w", addr, err)
	}
	h.serve(lis)
	return nil
}

func (h *HTTPServer) serve(lis net.Listener) {
	h.listener = lis
	go func() {
		if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: HTTP server: %v", err)
		}
	}()
}

// Addr returns the bound address, or nil before Start.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop closes the server immediately.
func (h *HTTPServer) Stop() {
	_ = h.server.Close()
}

func (h *HTTPServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	started, err := h.hub.StartSession(httpOwner)
	if err != nil {
		log.Printf("ERROR: starting session: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, started)
}

func (h *HTTPServer) handleEnd(w http.ResponseWriter, _ *http.Request) {
	ended, err := h.hub.EndSession()
	if errors.Is(err, ErrNoActiveSession) {
		writeError(w, http.StatusBadRequest, "No active session")
		return
	}
	if err != nil {
		log.Printf("ERROR: ending session: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := protocol.EndSummary{SessionID: ended.SessionID, Message: ended.Message}
	if stats, err := h.hub.StatsUpdate(protocol.TrailingDays(1)); err == nil {
		summary.Stats = &stats.AggregateStats
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPServer) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Runtime())
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	period, ok := h.period(w, r)
	if !ok {
		return
	}
	stats, err := h.hub.store.Stats(period, h.hub.clock.Now())
	if err != nil {
		log.Printf("ERROR: reading stats for %s: %v", period, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	period, ok := h.period(w, r)
	if !ok {
		return
	}
	sessions, err := h.hub.store.ListSessions(period, h.hub.clock.Now())
	if err != nil {
		log.Printf("ERROR: listing sessions for %s: %v", period, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.SessionsResponse{Sessions: sessions})
}

func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	period, ok := h.period(w, r)
	if !ok {
		return
	}
	events, err := h.hub.store.Events(period, h.hub.clock.Now())
	if err != nil {
		log.Printf("ERROR: listing events for %s: %v", period, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.EventsResponse{Events: events})
}

func (h *HTTPServer) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req protocol.AddEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "duration_seconds must not be negative")
		return
	}

	id, err := h.hub.AddEvent(req)
	if err != nil {
		log.Printf("ERROR: adding event: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.AddEventResponse{Message: "Event logged", EventID: id})
}

// handleExportCSV streams the period's events as CSV.
func (h *HTTPServer) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	period, ok := h.period(w, r)
	if !ok {
		return
	}
	events, err := h.hub.store.Events(period, h.hub.clock.Now())
	if err != nil {
		log.Printf("ERROR: exporting events for %s: %v", period, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="drowsiness_events.csv"`)
	if err := WriteEventsCSV(w, events); err != nil {
		log.Printf("ERROR: writing CSV: %v", err)
	}
}

func (h *HTTPServer) handleDBStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.hub.DBStatus()
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, status)
}

func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	period, ok := h.period(w, r)
	if !ok {
		return
	}
	newID, err := h.hub.Reset(period)
	if err != nil {
		log.Printf("ERROR: resetting logs: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.ResetResponse{
		Success:      true,
		Message:      fmt.Sprintf("Logs for %s cleared", period),
		NewSessionID: newID,
	})
}

func (h *HTTPServer) period(w http.ResponseWriter, r *http.Request) (protocol.Period, bool) {
	period, err := protocol.ParsePeriod(r.URL.Query(), h.statsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return protocol.Period{}, false
	}
	return period, true
}

// WriteEventsCSV writes events with a header row, oldest first.
func WriteEventsCSV(w io.Writer, events []protocol.DrowsinessEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "ear_value", "duration_seconds", "session_id"}); err != nil {
		return err
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		err := cw.Write([]string{
			strconv.FormatInt(ev.ID, 10),
			ev.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(ev.EARValue, 'f', 4, 64),
			strconv.FormatFloat(ev.DurationSeconds, 'f', 2, 64),
			ev.SessionID,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, protocol.ErrorResponse{Error: msg})
}
