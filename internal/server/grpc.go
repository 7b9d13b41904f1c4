package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/protocol"
)

// GRPCServer serves the push stream.
type GRPCServer struct {
	cfg      config.ServerConfig
	hub      *Hub
	auth     *authenticator
	server   *grpc.Server
	listener net.Listener
}

// NewGRPCServer creates the push stream server. Call Start to listen.
func NewGRPCServer(cfg config.ServerConfig, hub *Hub) *GRPCServer {
	g := &GRPCServer{
		cfg:  cfg,
		hub:  hub,
		auth: newAuthenticator(cfg.Tokens),
	}
	g.server = grpc.NewServer(grpc.StreamInterceptor(g.auth.streamInterceptor))
	protocol.RegisterSessionServiceServer(g.server, g)
	return g
}

// Start binds the configured port and serves in the background.
func (g *GRPCServer) Start() error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Bind, g.cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC listen on %s: %w", addr, err)
	}
	g.serve(lis)
	return nil
}

func (g *GRPCServer) serve(lis net.Listener) {
	g.listener = lis
	go func() {
		if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("ERROR: gRPC server: %v", err)
		}
	}()
}

// Addr returns the bound address, or nil before Start.
func (g *GRPCServer) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Stop closes every stream and the listener.
func (g *GRPCServer) Stop() {
	g.server.Stop()
}

// Connect runs one client's push stream: status changes are read on a
// separate goroutine while this one is the stream's only writer.
func (g *GRPCServer) Connect(stream protocol.ConnectServer) error {
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	sub := g.hub.subscribe()
	defer g.hub.unsubscribe(sub.id)

	recvErr := make(chan error, 1)
	go func() {
		for {
			change, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			g.handleStatus(sub.id, change)
		}
	}()

	ctx := stream.Context()
	for {
		select {
		case ev := <-sub.ch:
			if err := stream.Send(ev); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *GRPCServer) handleStatus(subID uint64, change *protocol.StatusChange) {
	switch change.Status {
	case protocol.StatusStarted:
		if _, err := g.hub.StartSession(subID); err != nil {
			log.Printf("ERROR: starting session for stream %d: %v", subID, err)
			g.hub.sendTo(subID, protocol.KindSessionError, protocol.SessionError{Error: err.Error()})
		}
	case protocol.StatusStopped:
		_, err := g.hub.EndSession()
		switch {
		case errors.Is(err, ErrNoActiveSession):
			// Nothing to end; confirm so the client stops waiting.
			g.hub.sendTo(subID, protocol.KindSessionEnded, protocol.SessionEnded{
				Message: "No active session",
				Error:   "No active session",
			})
		case err != nil:
			log.Printf("ERROR: ending session for stream %d: %v", subID, err)
			g.hub.sendTo(subID, protocol.KindSessionError, protocol.SessionError{Error: err.Error()})
		}
	default:
		g.hub.sendTo(subID, protocol.KindSessionError, protocol.SessionError{
			Error: fmt.Sprintf("unknown status %q", change.Status),
		})
	}
}
