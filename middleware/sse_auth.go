package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"squad-match-service/logger"
)

// SSEAuthMiddleware authenticates event streams. Browsers cannot set
// headers on EventSource, so a platform access token may come in the
// `token` query param; it is verified as an HS256 JWT and its subject
// becomes the user. Without one, the caller must be the gateway
// (service token) forwarding X-User-ID.
func SSEAuthMiddleware(jwtSecret, serviceToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if raw := strings.TrimSpace(c.Query("token")); raw != "" {
			userID, err := subjectFromToken(raw, jwtSecret)
			if err != nil {
				logger.Log.Warnw("[SSE_AUTH] token rejected", "path", c.Path(), "error", err)
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
			}
			c.Locals("user_id", userID)
			return c.Next()
		}

		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" || (serviceToken != "" && !validGatewayToken(c.Get("Authorization"), serviceToken)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func subjectFromToken(raw, secret string) (string, error) {
	if secret == "" {
		return "", jwt.ErrTokenUnverifiable
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}
