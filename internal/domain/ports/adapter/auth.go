package adapter

import "context"

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// TokenVerifier validates bearer tokens issued by the hosted auth provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}
