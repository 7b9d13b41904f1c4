package transport

import (
	"context"
	"errors"
	"fmt"
)

// Credentials attaches the caller's opaque token to outbound calls. The
// identity collaborator implements it; an error means no usable credential.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a Credentials that always returns the same token.
type StaticToken string

// Token returns the token, or ErrUnauthorized when it is empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no credential configured: %w", ErrUnauthorized)
	}
	return string(s), nil
}

func bearer(ctx context.Context, creds Credentials) (string, error) {
	if creds == nil {
		return "", fmt.Errorf("no credential hook: %w", ErrUnauthorized)
	}
	token, err := creds.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", err
		}
		return "", fmt.Errorf("attaching credential: %v: %w", err, ErrUnauthorized)
	}
	return "Bearer " + token, nil
}
