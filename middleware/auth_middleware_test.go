package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(roles ...string) *Claims {
	return &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc-lexdraft",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestHMACValidator_ValidateToken(t *testing.T) {
	validator := NewHMACValidator(testSecret)

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, testSecret, validClaims("admin"))

		claims, err := validator.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "svc-lexdraft", claims.Subject)
		assert.True(t, claims.HasRole("admin"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other-secret", validClaims())

		_, err := validator.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		token := signToken(t, testSecret, claims)

		_, err := validator.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := validator.ValidateToken(context.Background(), "not.a.token")
		assert.Error(t, err)
	})

	t.Run("empty secret rejects everything", func(t *testing.T) {
		unconfigured := NewHMACValidator("")
		token := signToken(t, testSecret, validClaims())

		_, err := unconfigured.ValidateToken(context.Background(), token)
		assert.Error(t, err)
	})
}

func newAuthMiddleware() *AuthMiddleware {
	logger, _ := zap.NewDevelopment()
	return NewAuthMiddleware(NewHMACValidator(testSecret), logger)
}

func TestRequireAuth(t *testing.T) {
	m := newAuthMiddleware()

	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", validClaims()))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	m := newAuthMiddleware()

	handler := m.RequireAuth(m.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("has role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/circuits/reset", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("admin")))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/circuits/reset", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("viewer")))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no claims in context", func(t *testing.T) {
		bare := m.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/circuits/reset", nil)
		rec := httptest.NewRecorder()

		bare.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"empty", "", ""},
		{"no scheme", "abc123", ""},
		{"wrong scheme", "Basic abc123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}
