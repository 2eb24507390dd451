package httpapi

import (
	"crypto/subtle"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/servicoscor/dashboard-radares/internal/ratelimit"
)

const (
	// AdminTokenHeader carries the admin secret; the token query parameter is
	// accepted as well.
	AdminTokenHeader = "X-Admin-Token"
	adminTokenQuery  = "token"
)

// Admitter decides whether a client may make one more request in a category.
type Admitter interface {
	Admit(client string, cat ratelimit.Category) ratelimit.Decision
}

// RateLimit rejects requests over the client's quota for cat with 429 and a
// Retry-After header.
func RateLimit(limiter Admitter, cat ratelimit.Category) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d := limiter.Admit(c.IP(), cat)
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

// RequireAdmin rejects requests that do not present secret. An empty secret
// rejects everything.
func RequireAdmin(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(AdminTokenHeader)
		if token == "" {
			token = c.Query(adminTokenQuery)
		}
		if !Authorized(secret, token) {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		return c.Next()
	}
}

// Authorized reports whether token equals the configured secret.
func Authorized(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}
