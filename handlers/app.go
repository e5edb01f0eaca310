package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"squad-match-service/monitor"
)

// corsAllowHeaders are the headers browser clients of the platform send.
const corsAllowHeaders = "authorization, x-client-info, apikey, content-type"

// NewApp builds the fiber app with the global middleware every route shares.
// Pre-flight OPTIONS requests are answered by the CORS middleware.
func NewApp(allowedOrigins string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "squad-match-service",
		ErrorHandler: jsonErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     corsAllowHeaders,
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return app
}

// SetupMetricsRoute exposes Prometheus metrics at /metrics.
func SetupMetricsRoute(app *fiber.App, metrics *monitor.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

// jsonErrorHandler keeps fiber's own errors (404 routes, panics) in the
// {error} shape handlers use.
func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	if fe, ok := err.(*fiber.Error); ok {
		code, msg = fe.Code, fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
