// Package auth verifies bearer tokens and exposes the caller as a shared.Actor.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medzillo/medzillo/internal/platform/httpx"
	"github.com/medzillo/medzillo/internal/shared"
)

// Claims are the bearer token claims. Subject carries the user id.
type Claims struct {
	ClinicID int64  `json:"clinic_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies HS256 tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier constructs a Verifier. ttl applies to issued tokens.
func NewVerifier(secret string, ttl time.Duration) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for actor. Used by the CLI and tests.
func (v *Verifier) Issue(actor shared.Actor) (string, error) {
	now := v.now()
	claims := Claims{
		ClinicID: actor.ClinicID,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a token and returns the actor it names.
func (v *Verifier) Verify(token string) (shared.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return shared.Actor{}, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return shared.Actor{}, fmt.Errorf("%w: invalid token claims", shared.ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.ClinicID <= 0 || claims.Role == "" {
		return shared.Actor{}, fmt.Errorf("%w: incomplete token claims", shared.ErrUnauthorized)
	}
	return shared.Actor{UserID: userID, ClinicID: claims.ClinicID, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the actor in context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
			httpx.RespondError(w, fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized))
			return
		}
		actor, err := v.Verify(strings.TrimSpace(header[len("Bearer "):]))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole allows the request only when the actor holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, fmt.Errorf("%w: missing actor", shared.ErrUnauthorized))
				return
			}
			if !actor.HasRole(roles...) {
				httpx.RespondError(w, fmt.Errorf("%w: role %q not permitted", shared.ErrForbidden, actor.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
