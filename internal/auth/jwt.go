package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier turns a raw bearer token into a verified user identifier
type Verifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// HMACVerifier verifies HS256 tokens signed with a shared secret. The user
// identifier is read from the "sub" claim, falling back to "id".
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("verify token: %w: %v", auctionerrors.ErrUnauthorized, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("verify token: %w", auctionerrors.ErrUnauthorized)
	}

	for _, key := range []string{"sub", "id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("verify token: %w", errors.Join(auctionerrors.ErrUnauthorized, errors.New("token has no subject")))
}

// IssueToken signs an access token for userID. Used by tests and local tooling;
// production tokens come from the identity provider.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
