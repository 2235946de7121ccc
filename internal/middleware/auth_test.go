package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/auth"
)

func protectedHandler(t *testing.T, a *auth.Authenticator) http.Handler {
	return AuthMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := "anonymous"
		if claims := GetUserFromContext(r.Context()); claims != nil {
			user = claims.Username
		}
		w.Write([]byte(user))
	}))
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{Enabled: true, Password: "pw", Secret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	expiredAuth, err := auth.NewAuthenticator(auth.Options{Enabled: true, Password: "pw", Secret: "k", Expiry: -time.Minute})
	require.NoError(t, err)
	expired, _, err := expiredAuth.Authenticate("admin", "pw")
	require.NoError(t, err)

	h := protectedHandler(t, a)
	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "admin"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, "admin"},
		{"missing", "", http.StatusUnauthorized, `{"error":"missing authorization header"}`},
		{"basic", "Basic abc", http.StatusUnauthorized, `{"error":"invalid authorization header format"}`},
		{"bad token", "Bearer nope", http.StatusUnauthorized, `{"error":"invalid token"}`},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, `{"error":"token has expired"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/config", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	protectedHandler(t, a).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}
