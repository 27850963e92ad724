// Package httpapi exposes the auth service over HTTP using fiber.
package httpapi

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	address string
	app     *fiber.App
	logger  logging.Logger
}

func NewServer(address string, svc AuthService, m *metrics.Metrics, l logging.Logger) *Server {
	logger := l.With("module", "http_server")

	app := fiber.New(fiber.Config{
		AppName:               "socialauth",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(observeRequests(m))

	h := &handlers{svc: svc}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	a := app.Group("/auth")
	a.Post("/register", h.register)
	a.Post("/verify-otp", h.verifyOTP)
	a.Post("/resend-otp", h.resendOTP)
	a.Post("/login", h.login)
	a.Post("/refresh", h.refresh)
	a.Post("/forgot-password", h.forgotPassword)
	a.Post("/reset-password", h.resetPassword)

	u := app.Group("/users", requireAccessToken(svc, logger))
	u.Get("/me", h.me)
	u.Put("/me/password", h.changePassword)

	return &Server{address: address, app: app, logger: logger}
}

// App returns the underlying fiber application, mostly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.ShutdownWithContext(sctx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	return s.app.Listener(listen)
}
