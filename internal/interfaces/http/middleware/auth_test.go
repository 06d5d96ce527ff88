package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facturio/backend/internal/infrastructure/auth"
	"github.com/facturio/backend/internal/infrastructure/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const middlewareTestSecret = "test-secret-key-at-least-32-chars"

func newTestVerifier() *auth.TokenVerifier {
	return auth.NewTokenVerifier(config.AuthConfig{
		JWTSecret: middlewareTestSecret,
		Issuer:    "facturio-app",
	})
}

func signMiddlewareToken(t *testing.T, claims auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(middlewareTestSecret))
	require.NoError(t, err)
	return signed
}

func validTestClaims(userID string) auth.Claims {
	now := time.Now()
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "facturio-app",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		UserID: userID,
		Email:  "user@example.com",
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier()
	token := signMiddlewareToken(t, validTestClaims("user-42"))

	router := gin.New()
	router.Use(AuthMiddleware(verifier))
	router.GET("/test", func(c *gin.Context) {
		claims := GetAuthClaims(c)
		assert.NotNil(t, claims)
		assert.Equal(t, "user-42", GetAuthUserID(c))
		assert.Equal(t, "user@example.com", GetAuthEmail(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(newTestVerifier()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(newTestVerifier()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, header := range []string{"Basic abc123", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q should be rejected", header)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	claims := validTestClaims("user-42")
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-30 * time.Minute))
	token := signMiddlewareToken(t, claims)

	router := gin.New()
	router.Use(AuthMiddleware(newTestVerifier()))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errInfo := body["error"].(map[string]interface{})
	assert.Equal(t, "TOKEN_EXPIRED", errInfo["code"])
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(newTestVerifier()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/v1/webhooks/stripe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"received": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_SkipPathPrefixes(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(newTestVerifier()))
	router.GET("/swagger/index.html", func(c *gin.Context) {
		c.String(http.StatusOK, "docs")
	})

	req := httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_DevHeader(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		cfg := DefaultAuthConfig(newTestVerifier())
		cfg.DevHeaderEnabled = true

		router := gin.New()
		router.Use(AuthMiddlewareWithConfig(cfg))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user_id": GetAuthUserID(c)})
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-User-ID", "dev-user-1")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "dev-user-1")
	})

	t.Run("disabled", func(t *testing.T) {
		router := gin.New()
		router.Use(AuthMiddleware(newTestVerifier()))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-User-ID", "dev-user-1")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token wins over dev header", func(t *testing.T) {
		cfg := DefaultAuthConfig(newTestVerifier())
		cfg.DevHeaderEnabled = true
		token := signMiddlewareToken(t, validTestClaims("real-user"))

		router := gin.New()
		router.Use(AuthMiddlewareWithConfig(cfg))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user_id": GetAuthUserID(c)})
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-User-ID", "dev-user-1")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "real-user")
	})
}

func TestAuthMiddleware_OnErrorCallback(t *testing.T) {
	called := false
	cfg := DefaultAuthConfig(newTestVerifier())
	cfg.OnError = func(c *gin.Context, err error) {
		called = true
		c.AbortWithStatus(http.StatusTeapot)
	}

	router := gin.New()
	router.Use(AuthMiddlewareWithConfig(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGetAuthUserID_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetAuthUserID(c))
	assert.Nil(t, GetAuthClaims(c))
	assert.Equal(t, "", GetAuthEmail(c))
}
