package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser(c *fiber.Ctx) error {
	id, _ := c.Locals("user_id").(string)
	return c.SendString(id)
}

func signed(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/x", GatewayAuthMiddleware("s3cret"), echoUser)

	status, _ := do(t, app, "/x", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, "/x", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, "/x", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = do(t, app, "/x", map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestGatewayAuthMiddleware_DisabledWithoutToken(t *testing.T) {
	app := fiber.New()
	app.Get("/x", GatewayAuthMiddleware(""), echoUser)

	status, _ := do(t, app, "/x", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/x", UserContextMiddleware(), echoUser)

	_, body := do(t, app, "/x", map[string]string{"X-User-ID": " u-1 "})
	assert.Equal(t, "u-1", body)

	status, body := do(t, app, "/x", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body)
}

func TestSSEAuthMiddleware_Token(t *testing.T) {
	app := fiber.New()
	app.Get("/stream", SSEAuthMiddleware("jwt-secret", "svc"), echoUser)

	good := signed(t, "jwt-secret", "user-42", time.Now().Add(time.Hour))
	status, body := do(t, app, "/stream?token="+good, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user-42", body)

	expired := signed(t, "jwt-secret", "user-42", time.Now().Add(-time.Hour))
	status, _ = do(t, app, "/stream?token="+expired, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	forged := signed(t, "other-secret", "user-42", time.Now().Add(time.Hour))
	status, _ = do(t, app, "/stream?token="+forged, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestSSEAuthMiddleware_Gateway(t *testing.T) {
	app := fiber.New()
	app.Get("/stream", SSEAuthMiddleware("jwt-secret", "svc"), echoUser)

	status, body := do(t, app, "/stream", map[string]string{"X-User-ID": "u-7", "Authorization": "Bearer svc"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "u-7", body)

	status, _ = do(t, app, "/stream", map[string]string{"X-User-ID": "u-7"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, "/stream", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
