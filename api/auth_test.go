package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/api"
	"github.com/apettas/adeies/org"
)

func TestParseToken_RoundTrip(t *testing.T) {
	token, err := api.SignToken(secret, "u-1", time.Minute)
	require.NoError(t, err)

	id, err := api.ParseToken(secret, token)

	require.NoError(t, err)
	assert.Equal(t, org.UserID("u-1"), id)
}

func TestParseToken_Rejects(t *testing.T) {
	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: future}, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}, jwt.SigningMethodHS256, []byte(secret))},
		{"no expiry", sign(jwt.RegisteredClaims{Subject: "u-1"}, jwt.SigningMethodHS256, []byte(secret))},
		{"no subject", sign(jwt.RegisteredClaims{ExpiresAt: future}, jwt.SigningMethodHS256, []byte(secret))},
		{"other HMAC", sign(jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: future}, jwt.SigningMethodHS512, []byte(secret))},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.ParseToken(secret, tt.token)
			assert.Error(t, err)
		})
	}
}

func TestRequireActor(t *testing.T) {
	var seen org.UserID
	h := api.RequireActor(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = api.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	token, err := api.SignToken(secret, "u-7", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic dTpw", http.StatusUnauthorized},
		{"no token", "Bearer", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, org.UserID("u-7"), seen)
			}
		})
	}
}
