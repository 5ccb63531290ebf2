package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/service"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
)

const secret = "middleware-test-secret-0123456789ab"

func signed(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestAuthenticator(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	clientID := uuid.New()
	store.AddUser(repository.UserRecord{ID: clientID, Email: "client@example.test", Role: entity.RoleClient})
	auth := NewAuthenticator(service.NewTokenManager(secret), identity.NewDirectory(store.Users(), store.Accounts()), logger.Discard())

	r := gin.New()
	r.GET("/me", auth.Middleware(), func(c *gin.Context) {
		actor, ok := Actor(c)
		require.True(t, ok)
		c.String(http.StatusOK, actor.Role())
	})
	r.GET("/ws", auth.QueryMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"bearer", "/me", "Bearer " + signed(t, clientID.String()), http.StatusOK},
		{"no header", "/me", "", http.StatusUnauthorized},
		{"not bearer", "/me", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/me", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"unknown user", "/me", "Bearer " + signed(t, uuid.NewString()), http.StatusUnauthorized},
		{"query token", "/ws?token=" + signed(t, clientID.String()), "", http.StatusOK},
		{"query without token", "/ws", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func limited(store limiter.Store, limit int64) *gin.Engine {
	r := gin.New()
	r.POST("/fund", RateLimitMiddleware(store, limit, time.Minute, logger.Discard()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func post(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/fund", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := NewLimiterStore(nil)
	require.NoError(t, err)
	r := limited(store, 2)

	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1").Code)

	w := post(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, post(r, "10.0.0.2").Code, "у другого адреса свой счётчик")
}

type brokenStore struct {
	limiter.Store
}

func (brokenStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("redis: connection refused")
}

func TestRateLimit_StoreDownLetsRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := limited(brokenStore{}, 1)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(r, "10.0.0.1").Code)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.test"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUUIDValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/escrow/:id", UUIDValidator("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for path, status := range map[string]int{
		"/escrow/" + uuid.NewString(): http.StatusOK,
		"/escrow/123":                 http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, status, w.Code, path)
	}
}
