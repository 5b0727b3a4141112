// Package auth verifies identity-provider tokens and carries the resulting identity in a context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/cardkeeper/internal/errs"
)

// RoleAdmin is the role claim value that unlocks cross-user integrity operations.
const RoleAdmin = "admin"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Admin  bool
}

// Scope resolves which user an integrity operation covers. "" means every user. Non-admins
// only ever get themselves.
func (id Identity) Scope(userID string, all bool) (string, error) {
	userID = strings.TrimSpace(userID)
	switch {
	case all:
		if !id.Admin {
			return "", fmt.Errorf("%w: all users requires the admin role", errs.ErrForbidden)
		}
		return "", nil
	case userID == "" || userID == id.UserID:
		return id.UserID, nil
	case id.Admin:
		return userID, nil
	default:
		return "", fmt.Errorf("%w: other users require the admin role", errs.ErrForbidden)
	}
}

// Claims is the token body issued by the identity provider.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared key.
type Verifier struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier returns a verifier for key. leeway tolerates clock skew on exp/nbf.
func NewVerifier(key []byte, leeway time.Duration) *Verifier {
	return &Verifier{key: key, leeway: leeway, now: time.Now}
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if len(v.key) == 0 {
		return Identity{}, fmt.Errorf("%w: verifier has no key", errs.ErrUnauthorized)
	}
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("token not valid")
		}
		return Identity{}, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", errs.ErrUnauthorized)
	}
	return Identity{UserID: sub, Admin: claims.Role == RoleAdmin}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", fmt.Errorf("%w: no bearer token", errs.ErrUnauthorized)
	}
	t := strings.TrimSpace(header[7:])
	if t == "" {
		return "", fmt.Errorf("%w: empty bearer token", errs.ErrUnauthorized)
	}
	return t, nil
}

type ctxKey string

const identityKey ctxKey = "ck.identity"

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext fetches the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// Sign issues a token. The service only verifies tokens; this exists for the operator CLI and tests.
func Sign(key []byte, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if id.Admin {
		claims.Role = RoleAdmin
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
