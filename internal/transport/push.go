package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// EventHandler receives every event read from the push stream, in
// arrival order, on the stream's reader goroutine.
type EventHandler func(protocol.Event)

// ReconnectConfig controls the push stream's exponential backoff.
type ReconnectConfig struct {
	RetryDelay    time.Duration // first delay (default 1s)
	MaxRetryDelay time.Duration // cap (default 30s)
}

// DefaultReconnectConfig returns 1s doubling to a 30s cap.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// backoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
func (c ReconnectConfig) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	delay := c.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.MaxRetryDelay {
		delay = c.MaxRetryDelay
	}
	return delay
}

// PushOption configures a PushClient.
type PushOption func(*PushClient)

// WithPushLogger sets the debug logger for push traffic.
func WithPushLogger(l Logger) PushOption {
	return func(p *PushClient) { p.logger = l }
}

// WithReconnect overrides the reconnect backoff.
func WithReconnect(cfg ReconnectConfig) PushOption {
	return func(p *PushClient) { p.reconnect = cfg }
}

// WithDialOptions appends gRPC dial options (tests use a bufconn dialer).
func WithDialOptions(opts ...grpc.DialOption) PushOption {
	return func(p *PushClient) { p.dialOpts = append(p.dialOpts, opts...) }
}

// PushClient is the persistent duplex channel: a gRPC bidirectional
// stream that carries status changes up and lifecycle events down. It
// reconnects with backoff until stopped, except after an authorization
// failure.
type PushClient struct {
	target    string
	creds     Credentials
	handler   EventHandler
	logger    Logger
	reconnect ReconnectConfig
	dialOpts  []grpc.DialOption

	connected  atomic.Bool
	reconnects atomic.Uint32

	mu     sync.Mutex
	conn   *grpc.ClientConn
	stream protocol.ConnectClient
	cancel context.CancelFunc
	done   chan struct{}

	// sendMu serialises SendMsg; gRPC streams allow one concurrent sender.
	sendMu sync.Mutex
}

// NewPushClient creates a push channel to the gRPC server at target.
// Events are delivered to handler.
func NewPushClient(target string, creds Credentials, handler EventHandler, opts ...PushOption) *PushClient {
	p := &PushClient{
		target:    target,
		creds:     creds,
		handler:   handler,
		logger:    NopLogger{},
		reconnect: DefaultReconnectConfig(),
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start creates the client connection and launches the stream loop.
// It does not wait for the stream to come up; use Connected.
func (p *PushClient) Start(ctx context.Context) error {
	conn, err := grpc.NewClient(p.target, p.dialOpts...)
	if err != nil {
		return fmt.Errorf("creating push client for %s: %w", p.target, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.conn = conn
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.run(loopCtx)
	}()
	return nil
}

// Connected reports whether the stream is currently established.
func (p *PushClient) Connected() bool {
	return p.connected.Load()
}

// Reconnects returns how many established streams have been lost and
// handed back to the reconnect loop.
func (p *PushClient) Reconnects() uint32 {
	return p.reconnects.Load()
}

// Send writes a status change on the stream.
func (p *PushClient) Send(ctx context.Context, change protocol.StatusChange) error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream == nil || !p.connected.Load() {
		return fmt.Errorf("push stream not connected: %w", ErrTransportUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push send: %v: %w", err, classifyCallError(err))
	}

	p.sendMu.Lock()
	err := stream.Send(&change)
	p.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("push send: %w", grpcErrorKind(err))
	}
	p.logger.LogOutbound(ChannelPush, change)
	return nil
}

// Stop cancels the stream loop, waits for it to exit and closes the
// connection.
func (p *PushClient) Stop() {
	p.mu.Lock()
	cancel, done, conn := p.cancel, p.done, p.conn
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *PushClient) run(ctx context.Context) {
	attempt := 0
	for {
		established, err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			log.Printf("ERROR: push stream rejected credential, not reconnecting: %v", err)
			return
		}
		if established {
			attempt = 0
			p.reconnects.Add(1)
		}
		attempt++
		delay := p.reconnect.backoff(attempt)
		log.Printf("WARNING: push stream down (%v), retrying in %v", err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session opens one stream and pumps events until it fails. established
// reports whether the server accepted the stream before the failure.
func (p *PushClient) session(ctx context.Context) (established bool, err error) {
	auth, err := bearer(ctx, p.creds)
	if err != nil {
		return false, err
	}

	streamCtx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(ctx, "authorization", auth))
	defer cancel()

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	stream, err := protocol.Connect(streamCtx, conn)
	if err != nil {
		return false, grpcErrorKind(err)
	}
	// The server sends headers once it has accepted the credential.
	if _, err := stream.Header(); err != nil {
		return false, grpcErrorKind(err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	p.connected.Store(true)

	defer func() {
		p.connected.Store(false)
		p.mu.Lock()
		p.stream = nil
		p.mu.Unlock()
	}()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, fmt.Errorf("server closed stream: %w", ErrTransportUnavailable)
			}
			return true, grpcErrorKind(err)
		}
		p.logger.LogInbound(*ev)
		if p.handler != nil {
			p.handler(*ev)
		}
	}
}

// grpcErrorKind maps a gRPC status onto the transport error kinds.
func grpcErrorKind(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%v: %w", err, ErrUnauthorized)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	case codes.Internal, codes.DataLoss:
		return fmt.Errorf("%v: %w", err, ErrMalformedResponse)
	default:
		return fmt.Errorf("%v: %w", err, ErrTransportUnavailable)
	}
}
