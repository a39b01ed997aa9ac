/*
auth.go - Bearer token actor identity

PURPOSE:
  Every /api route except the demo scenarios acts on behalf of a user. The
  user id is the "sub" claim of an HS256 JWT in the Authorization header.
  Authorization decisions are made by the workflow guards, not here; this
  layer only establishes who is asking.

SEE ALSO:
  - server.go: where RequireActor is mounted
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apettas/adeies/org"
)

type ctxKey int

const ctxKeyActor ctxKey = iota

var errMissingToken = errors.New("missing or malformed bearer token")

// SignToken issues a token for userID. Used by demo scenarios and tests.
func SignToken(secret string, userID org.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its subject.
func ParseToken(secret, tokenString string) (org.UserID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return org.UserID(claims.Subject), nil
}

// RequireActor rejects requests without a valid bearer token with 401.
func RequireActor(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: errMissingToken.Error(), Code: "unauthenticated"})
				return
			}
			userID, err := ParseToken(secret, parts[1])
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "unauthenticated", Details: err.Error()})
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyActor, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the authenticated user id.
func ActorFrom(ctx context.Context) (org.UserID, bool) {
	id, ok := ctx.Value(ctxKeyActor).(org.UserID)
	return id, ok
}
