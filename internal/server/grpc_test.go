package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/storage"
)

// startTestGRPC serves the push stream on an ephemeral port.
func startTestGRPC(t *testing.T) (*GRPCServer, *grpc.ClientConn) {
	t.Helper()

	hub := NewHub(storage.NewMemoryStore(), false, clock.Real(), 16)
	g := NewGRPCServer(config.ServerConfig{Tokens: []string{testToken}}, hub)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	g.serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return g, conn
}

func connect(t *testing.T, conn *grpc.ClientConn, token string) (protocol.ConnectClient, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	stream, err := protocol.Connect(ctx, conn)
	if err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}
	return stream, cancel
}

func recvKind(t *testing.T, stream protocol.ConnectClient, want protocol.EventKind) protocol.Event {
	t.Helper()
	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv waiting for %s: %v", want, err)
	}
	if ev.Kind != want {
		t.Fatalf("expected %s, got %s", want, ev.Kind)
	}
	return *ev
}

func TestGRPCStartStop(t *testing.T) {
	g, conn := startTestGRPC(t)
	stream, cancel := connect(t, conn, testToken)
	defer cancel()

	if _, err := stream.Header(); err != nil {
		t.Fatalf("Header: %v", err)
	}

	if err := stream.Send(&protocol.StatusChange{Status: protocol.StatusStarted}); err != nil {
		t.Fatalf("Send started: %v", err)
	}
	ev := recvKind(t, stream, protocol.KindSessionStarted)
	var started protocol.SessionStarted
	if err := ev.Decode(&started); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if started.SessionID == "" || g.hub.Current() != started.SessionID {
		t.Errorf("expected hub current to match %q, got %q", started.SessionID, g.hub.Current())
	}

	if err := stream.Send(&protocol.StatusChange{Status: protocol.StatusStopped}); err != nil {
		t.Fatalf("Send stopped: %v", err)
	}
	ev = recvKind(t, stream, protocol.KindSessionEnded)
	var ended protocol.SessionEnded
	if err := ev.Decode(&ended); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ended.SessionID != started.SessionID {
		t.Errorf("expected ended %s, got %s", started.SessionID, ended.SessionID)
	}
	recvKind(t, stream, protocol.KindStatsUpdated)
}

func TestGRPCStopWithoutSessionConfirms(t *testing.T) {
	_, conn := startTestGRPC(t)
	stream, cancel := connect(t, conn, testToken)
	defer cancel()

	if err := stream.Send(&protocol.StatusChange{Status: protocol.StatusStopped}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := recvKind(t, stream, protocol.KindSessionEnded)
	var ended protocol.SessionEnded
	_ = ev.Decode(&ended)
	if ended.Error == "" {
		t.Error("expected error field on no-op stop confirmation")
	}
}

func TestGRPCUnknownStatus(t *testing.T) {
	_, conn := startTestGRPC(t)
	stream, cancel := connect(t, conn, testToken)
	defer cancel()

	_ = stream.Send(&protocol.StatusChange{Status: "paused"})
	recvKind(t, stream, protocol.KindSessionError)
}

func TestGRPCRejectsBadToken(t *testing.T) {
	_, conn := startTestGRPC(t)
	stream, cancel := connect(t, conn, "wrong")
	defer cancel()

	_, err := stream.Header()
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestGRPCDisconnectEndsOwnedSession(t *testing.T) {
	g, conn := startTestGRPC(t)
	stream, cancel := connect(t, conn, testToken)

	_ = stream.Send(&protocol.StatusChange{Status: protocol.StatusStarted})
	recvKind(t, stream, protocol.KindSessionStarted)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for g.hub.Current() != "" {
		if time.Now().After(deadline) {
			t.Fatal("expected session to end after owner disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
