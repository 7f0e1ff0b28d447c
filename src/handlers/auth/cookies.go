package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cryptvault/api/src/session"
)

// CookieConfig holds the per-request cookie attributes.
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func cookieConfig(c *gin.Context, configuredDomain string, sessionMaxAge int) CookieConfig {
	isProduction := c.GetString("environment") == "production"

	domain := configuredDomain
	if domain == "" && isProduction {
		host := c.Request.Host
		if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
			host = host[:colonIdx]
		}
		if !isLocalhost(host) {
			domain = "." + baseDomain(host)
		}
	}

	return CookieConfig{
		Domain:   domain,
		Secure:   isProduction || c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || strings.HasPrefix(host, "192.168.")
}

func baseDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// SetSessionCookies writes the signed session cookie and a fresh CSRF
// token cookie (readable by JavaScript, unlike the session cookie) after a
// successful login/register.
func SetSessionCookies(c *gin.Context, configuredDomain string, sessionMaxAge int, sessionCookieValue, csrfToken string) {
	cfg := cookieConfig(c, configuredDomain, sessionMaxAge)

	c.SetSameSite(cfg.SameSite)
	c.SetCookie(session.CookieName, sessionCookieValue, sessionMaxAge, "/", cfg.Domain, cfg.Secure, true)
	c.SetCookie(session.CSRFCookieName, csrfToken, sessionMaxAge, "/", cfg.Domain, cfg.Secure, false)
}

// ClearSessionCookies removes both cookies on logout.
func ClearSessionCookies(c *gin.Context, configuredDomain string) {
	cfg := cookieConfig(c, configuredDomain, 0)

	c.SetSameSite(cfg.SameSite)
	c.SetCookie(session.CookieName, "", -1, "/", cfg.Domain, cfg.Secure, true)
	c.SetCookie(session.CSRFCookieName, "", -1, "/", cfg.Domain, cfg.Secure, false)
}
