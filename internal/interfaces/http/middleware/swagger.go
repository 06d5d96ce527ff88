package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SwaggerConfig holds configuration for Swagger endpoint protection
type SwaggerConfig struct {
	Enabled     bool     // Whether the Swagger endpoint is served at all
	RequireAuth bool     // Require a bearer token to access Swagger
	AllowedIPs  []string // IP whitelist (CIDR notation supported, empty = allow all)
}

// ipAllowlist holds the parsed form of SwaggerConfig.AllowedIPs.
type ipAllowlist struct {
	ips  []net.IP
	nets []*net.IPNet
}

// parseAllowlist parses IPs and CIDR ranges once at startup. Entries that
// fail to parse are silently dropped rather than failing the server.
func parseAllowlist(entries []string) ipAllowlist {
	var list ipAllowlist
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil {
				list.nets = append(list.nets, network)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			list.ips = append(list.ips, ip)
		}
	}
	return list
}

func (l ipAllowlist) allows(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, allowed := range l.ips {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range l.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// SwaggerProtection gates the API documentation endpoint. The docs describe
// the credit and document endpoints, so production deployments typically
// disable them or restrict them to office and VPN ranges.
//
// Checks run in order: disabled returns 404 for everything, then the IP
// allowlist, then bearer auth when required. All three can be combined.
func SwaggerProtection(cfg SwaggerConfig, jwtMiddleware gin.HandlerFunc) gin.HandlerFunc {
	allowlist := parseAllowlist(cfg.AllowedIPs)

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "API documentation is not available",
			})
			return
		}

		// A configured allowlist whose entries all failed to parse denies
		// everyone rather than opening the docs up
		if len(cfg.AllowedIPs) > 0 {
			if !allowlist.allows(getClientIP(c)) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "Access to API documentation is restricted",
				})
				return
			}
		}

		if cfg.RequireAuth && jwtMiddleware != nil {
			jwtMiddleware(c)
			if c.IsAborted() {
				return
			}
		}

		c.Next()
	}
}

// getClientIP extracts the client IP from the request, preferring Gin's
// trusted-proxy aware resolution over the raw remote address.
func getClientIP(c *gin.Context) net.IP {
	if clientIP := c.ClientIP(); clientIP != "" {
		if ip := net.ParseIP(clientIP); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		host = c.Request.RemoteAddr
	}
	return net.ParseIP(host)
}
