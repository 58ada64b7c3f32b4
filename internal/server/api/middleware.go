package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"wharf/internal/server/database"
	"wharf/internal/server/service"
)

// identityKey is the echo context key the auth middleware stores the
// resolved identity under.
const identityKey = "identity"

// KeyStore resolves API key secrets into key records. Implemented by
// database.APIKeyRepository.
type KeyStore interface {
	GetByKey(ctx context.Context, key string) (*database.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// Auth resolves the Authorization header into an identity. Two schemes
// are accepted: "Bearer <token>" compared against the configured admin
// token, and "ApiKey <secret>" resolved through the key store. An empty
// admin token disables the bearer scheme entirely.
func Auth(keys KeyStore, adminToken string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, credential, ok := strings.Cut(header, " ")
			credential = strings.TrimSpace(credential)
			if !ok || credential == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": "authorization required",
				})
			}

			switch scheme {
			case "Bearer":
				if adminToken == "" ||
					subtle.ConstantTimeCompare([]byte(credential), []byte(adminToken)) != 1 {
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error": "invalid admin token",
					})
				}
				c.Set(identityKey, service.AdminIdentity("root"))
				return next(c)

			case "ApiKey":
				key, err := keys.GetByKey(c.Request().Context(), credential)
				if err != nil {
					if errors.Is(err, database.ErrKeyNotFound) {
						return c.JSON(http.StatusUnauthorized, echo.Map{
							"error": "invalid api key",
						})
					}
					slog.Error("api key lookup failed", "error", err)
					return c.JSON(http.StatusInternalServerError, echo.Map{
						"error": "internal server error",
					})
				}
				if !database.IsNever(key.ExpiresAt) && time.Now().After(key.ExpiresAt) {
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error": "api key expired",
					})
				}
				if err := keys.TouchLastUsed(c.Request().Context(), key.ID); err != nil {
					slog.Warn("failed to touch api key", "key_id", key.ID, "error", err)
				}
				c.Set(identityKey, service.Identity{
					Kind:      service.KindAPIKey,
					ID:        key.ID,
					BasicPath: key.BasicPath,
					FilePerm:  key.FilePermission,
					TextPerm:  key.TextPermission,
					MountPerm: key.MountPermission,
				})
				return next(c)
			}

			return c.JSON(http.StatusUnauthorized, echo.Map{
				"error": "unsupported authorization scheme",
			})
		}
	}
}

// identityFrom pulls the identity stored by Auth. Routes behind the
// auth group always have one; the zero identity carries no capabilities.
func identityFrom(c echo.Context) service.Identity {
	if ident, ok := c.Get(identityKey).(service.Identity); ok {
		return ident
	}
	return service.Identity{}
}

// RequireFile rejects API keys without the file capability.
func RequireFile(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident := identityFrom(c)
		if !ident.IsAdmin() && !ident.FilePerm {
			return c.JSON(http.StatusForbidden, echo.Map{
				"error": "key lacks file permission",
			})
		}
		return next(c)
	}
}

// RequireMount rejects API keys without the mount capability.
func RequireMount(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident := identityFrom(c)
		if !ident.IsAdmin() && !ident.MountPerm {
			return c.JSON(http.StatusForbidden, echo.Map{
				"error": "key lacks mount permission",
			})
		}
		return next(c)
	}
}

// RequireAdmin rejects everything but the admin token.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !identityFrom(c).IsAdmin() {
			return c.JSON(http.StatusForbidden, echo.Map{
				"error": "admin token required",
			})
		}
		return next(c)
	}
}

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64 // tokens per second
	burst    int     // max tokens
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rps,
		burst:    burst,
	}

	// Clean up stale entries every 5 minutes
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			rl.cleanup()
		}
	}()

	return rl
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip)
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    float64(rl.burst) - 1,
			lastCheck: now,
		}
		return true
	}

	// Add tokens based on elapsed time
	elapsed := now.Sub(v.lastCheck).Seconds()
	v.tokens += elapsed * rl.rate
	if v.tokens > float64(rl.burst) {
		v.tokens = float64(rl.burst)
	}
	v.lastCheck = now

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, v := range rl.visitors {
		if v.lastCheck.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
