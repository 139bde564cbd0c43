// Package auth issues and validates the role tokens used by the gateway and
// the REST surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is what a token holder may do.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleJudge      Role = "judge"
	RoleContestant Role = "contestant"
	RoleViewer     Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleJudge, RoleContestant, RoleViewer:
		return true
	}
	return false
}

// Staff reports whether r may operate a match.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleJudge
}

// Claims are the JWT claims of every token. Subject is the user id for
// staff and the contestant id for contestants.
type Claims struct {
	Role    Role   `json:"role"`
	MatchID string `json:"matchId,omitempty"`
	jwt.RegisteredClaims
}

// Principal is a validated token holder.
type Principal struct {
	Role    Role
	Subject uuid.UUID
	// MatchID scopes contestant tokens to one match. Nil for staff.
	MatchID *uuid.UUID
}

// CanJoin reports whether p may connect to matchID.
func (p *Principal) CanJoin(matchID uuid.UUID) bool {
	return p.MatchID == nil || *p.MatchID == matchID
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Issuer signs and validates tokens with one HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl means 12 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject. matchID may be nil.
func (i *Issuer) Issue(role Role, subject uuid.UUID, matchID *uuid.UUID) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := i.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if matchID != nil {
		claims.MatchID = matchID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns its holder.
func (i *Issuer) Validate(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	p := &Principal{Role: claims.Role, Subject: subject}
	if claims.MatchID != "" {
		id, err := uuid.Parse(claims.MatchID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad match id", ErrInvalidToken)
		}
		p.MatchID = &id
	}
	return p, nil
}

type contextKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by Require, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}

// Require validates the bearer token (or the token query parameter) and
// rejects holders whose role is not listed.
func (i *Issuer) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := i.Validate(TokenFromRequest(r))
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if !hasRole(p.Role, roles) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// TokenFromRequest reads a bearer token, falling back to ?token= for
// WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func hasRole(role Role, allowed []Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}
