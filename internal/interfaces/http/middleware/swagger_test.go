package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newSwaggerRouter(cfg SwaggerConfig, jwtMiddleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/swagger/*any", SwaggerProtection(cfg, jwtMiddleware), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "swagger"})
	})
	return router
}

// getSwagger requests the swagger index from the given remote address.
// An empty remoteAddr keeps the recorder default.
func getSwagger(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/swagger/index.html", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSwaggerProtection_Disabled(t *testing.T) {
	router := newSwaggerRouter(SwaggerConfig{Enabled: false}, nil)

	w := getSwagger(router, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestSwaggerProtection_Enabled_NoRestrictions(t *testing.T) {
	router := newSwaggerRouter(SwaggerConfig{Enabled: true}, nil)

	assert.Equal(t, http.StatusOK, getSwagger(router, "").Code)
}

func TestSwaggerProtection_IPAllowlist(t *testing.T) {
	t.Run("allowed IP passes", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{
			Enabled:    true,
			AllowedIPs: []string{"127.0.0.1"},
		}, nil)

		assert.Equal(t, http.StatusOK, getSwagger(router, "127.0.0.1:12345").Code)
	})

	t.Run("other IP is rejected", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{
			Enabled:    true,
			AllowedIPs: []string{"10.0.0.1"},
		}, nil)

		w := getSwagger(router, "192.168.1.1:12345")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "forbidden")
	})

	t.Run("CIDR range", func(t *testing.T) {
		// Office VPN style range
		router := newSwaggerRouter(SwaggerConfig{
			Enabled:    true,
			AllowedIPs: []string{"10.0.0.0/8"},
		}, nil)

		assert.Equal(t, http.StatusOK, getSwagger(router, "10.50.100.200:12345").Code)
		assert.Equal(t, http.StatusForbidden, getSwagger(router, "192.168.1.1:12345").Code)
	})

	t.Run("unparseable allowlist denies everyone", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{
			Enabled:    true,
			AllowedIPs: []string{"not-an-ip", "300.0.0.0/8"},
		}, nil)

		assert.Equal(t, http.StatusForbidden, getSwagger(router, "127.0.0.1:12345").Code)
	})
}

func TestSwaggerProtection_RequireAuth(t *testing.T) {
	denyAll := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	allowAll := func(c *gin.Context) {
		c.Set("auth_user_id", "user-123")
		c.Next()
	}

	t.Run("rejected by auth middleware", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{Enabled: true, RequireAuth: true}, denyAll)

		assert.Equal(t, http.StatusUnauthorized, getSwagger(router, "").Code)
	})

	t.Run("accepted by auth middleware", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{Enabled: true, RequireAuth: true}, allowAll)

		assert.Equal(t, http.StatusOK, getSwagger(router, "").Code)
	})

	t.Run("IP check runs before auth", func(t *testing.T) {
		router := newSwaggerRouter(SwaggerConfig{
			Enabled:     true,
			RequireAuth: true,
			AllowedIPs:  []string{"127.0.0.1"},
		}, allowAll)

		assert.Equal(t, http.StatusOK, getSwagger(router, "127.0.0.1:12345").Code)
		assert.Equal(t, http.StatusForbidden, getSwagger(router, "192.168.1.1:12345").Code)
	})
}

func TestParseAllowlist(t *testing.T) {
	list := parseAllowlist([]string{"127.0.0.1", "10.0.0.0/8", "garbage", "::1"})

	assert.Len(t, list.ips, 2)
	assert.Len(t, list.nets, 1)
}

func TestIPAllowlist_Allows(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		entries []string
		want    bool
	}{
		{"exact IP match", "192.168.1.1", []string{"192.168.1.1"}, true},
		{"no match", "192.168.1.2", []string{"192.168.1.1"}, false},
		{"CIDR match", "10.0.0.5", []string{"10.0.0.0/8"}, true},
		{"CIDR no match", "11.0.0.5", []string{"10.0.0.0/8"}, false},
		{"localhost IPv4", "127.0.0.1", []string{"127.0.0.1"}, true},
		{"IPv6 localhost", "::1", []string{"::1"}, true},
		{"empty list", "127.0.0.1", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := parseAllowlist(tt.entries)
			assert.Equal(t, tt.want, list.allows(net.ParseIP(tt.ip)))
		})
	}
}
