package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// authenticator accepts bearer tokens from a fixed list. An empty list
// disables authentication.
type authenticator struct {
	tokens []string
}

func newAuthenticator(tokens []string) *authenticator {
	var clean []string
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return &authenticator{tokens: clean}
}

func (a *authenticator) enabled() bool { return len(a.tokens) > 0 }

// check validates an Authorization header value.
func (a *authenticator) check(header string) bool {
	if !a.enabled() {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	for _, want := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

// middleware rejects HTTP requests without a valid bearer token.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.check(r.Header.Get("Authorization")) {
			writeError(w, http.StatusUnauthorized, "Invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// streamInterceptor rejects push streams without a valid "authorization"
// metadata entry before the handler runs.
func (a *authenticator) streamInterceptor(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := a.checkContext(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

func (a *authenticator) checkContext(ctx context.Context) error {
	if !a.enabled() {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		if a.check(v) {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid or missing bearer token")
}
