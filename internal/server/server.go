package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/storage"
)

// Server bundles the hub with both listeners and the periodic stats push.
type Server struct {
	Hub  *Hub
	GRPC *GRPCServer
	HTTP *HTTPServer

	store        storage.Store
	clock        clock.Clock
	pushInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// New wires a server over store.
func New(cfg config.Config, store storage.Store, persistent bool, c clock.Clock) *Server {
	hub := NewHub(store, persistent, c, cfg.Server.BroadcastBuffer)
	return &Server{
		Hub:          hub,
		GRPC:         NewGRPCServer(cfg.Server, hub),
		HTTP:         NewHTTPServer(cfg.Server, hub, cfg.Client.StatsDays),
		store:        store,
		clock:        c,
		pushInterval: time.Duration(cfg.Server.PushIntervalMS) * time.Millisecond,
	}
}

// Start opens both listeners and the stats push loop.
func (s *Server) Start(ctx context.Context) error {
	if !s.GRPC.auth.enabled() {
		log.Printf("WARNING: no server tokens configured, authentication disabled")
	}
	if err := s.GRPC.Start(); err != nil {
		return err
	}
	if err := s.HTTP.Start(); err != nil {
		s.GRPC.Stop()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.pushLoop(loopCtx)
	return nil
}

// pushLoop broadcasts stats_updated every push interval while a session
// is running, so connected clients keep a fresh runtime baseline.
func (s *Server) pushLoop(ctx context.Context) {
	defer close(s.done)
	if s.pushInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := s.clock.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Hub.Current() != "" {
				s.Hub.PushStats()
			}
		}
	}
}

// Stop ends the current session, stops both listeners and closes the
// store.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if _, err := s.Hub.EndSession(); err != nil && !errors.Is(err, ErrNoActiveSession) {
		log.Printf("WARNING: ending session on shutdown: %v", err)
	}
	s.GRPC.Stop()
	s.HTTP.Stop()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
