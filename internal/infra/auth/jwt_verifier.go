package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/ports/adapter"
)

var _ adapter.TokenVerifier = (*JWTVerifier)(nil)

// Claims are the fields read from access tokens issued by the hosted auth provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens. The subject is the user id.
type JWTVerifier struct {
	secret   []byte
	audience string
}

func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*adapter.Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: auth secret is not set", domain.ErrConfiguration)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrAuthentication
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	if !tkn.Valid {
		return nil, domain.ErrAuthentication
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	return &adapter.Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <jwt>" header value.
func BearerToken(header string) (string, bool) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[7:])
	return tok, tok != ""
}
