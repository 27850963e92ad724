package httpapi

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/common"
	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/metrics"
	"github.com/gofiber/fiber/v2"
)

const userIDKey = "userID"

// requireAccessToken admits requests carrying a valid access token in the
// Authorization header and stores its subject under userIDKey. Every token
// failure gets the same 401 body.
func requireAccessToken(svc AuthService, logger logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c.Get(common.AuthorizationHeaderName))
		if !ok {
			return unauthorized(c)
		}

		userID, err := svc.Authenticate(c.UserContext(), token)
		if err != nil {
			logger.Debug(c.UserContext(), "access token rejected", "reason", err)
			return unauthorized(c)
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, common.BearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, common.BearerScheme)
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "unauthorized",
		Message: "could not validate credentials",
	})
}

// observeRequests records request counts and latency per matched route.
func observeRequests(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The error handler runs after this middleware returns.
			status = statusFor(err)
		}
		m.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
