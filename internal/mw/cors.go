package mw

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// OriginPolicy decides which browser origins may call the API. Every origin
// is accepted in dev. Elsewhere only the configured origins are, or
// same-origin requests when none are configured. "*" accepts everything.
type OriginPolicy struct {
	dev     bool
	allowed map[string]bool
}

func NewOriginPolicy(env string, origins []string) OriginPolicy {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return OriginPolicy{dev: env == "dev", allowed: allowed}
}

// Allow reports whether origin may talk to a server reached as host.
func (p OriginPolicy) Allow(origin, host string) bool {
	if p.dev || p.allowed["*"] || p.allowed[origin] {
		return true
	}
	return len(p.allowed) == 0 && sameHost(origin, host)
}

// CORS answers cross-origin requests according to NewOriginPolicy(env, origins).
func CORS(env string, origins []string) gin.HandlerFunc {
	policy := NewOriginPolicy(env, origins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if policy.Allow(origin, c.Request.Host) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == host
}
