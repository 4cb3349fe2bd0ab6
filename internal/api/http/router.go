package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/Skynetiks/skydesk/internal/api/http/handlers"
	"github.com/Skynetiks/skydesk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Inbound     *handlers.InboundHandler
	Poll        *handlers.PollHandler
	PollSecret  *auth.SharedSecret
	MetricsHTTP nethttp.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.MetricsHTTP != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.MetricsHTTP))
	}

	inbound := app.Group("/api/v1/inbound")
	inbound.Post("/email", cfg.Inbound.ReceiveEmail)

	poll := inbound.Group("/poll", cfg.PollSecret.Handle)
	poll.Get("", cfg.Poll.Trigger)
	poll.Post("", cfg.Poll.Trigger)
}
