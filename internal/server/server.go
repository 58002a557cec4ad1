// Package server exposes the HTTP ingress: Alertmanager webhook deliveries,
// manual action invocations, signed callbacks and health probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/executor"
)

// Pipeline is the executor surface the handlers need. TryEnqueue feeds the
// async worker pool; Process runs an event synchronously for manual triggers.
type Pipeline interface {
	TryEnqueue(ev event.TriggerEvent) bool
	Process(ctx context.Context, ev event.TriggerEvent) []*event.Base
}

// Options configures the HTTP server.
type Options struct {
	Logger     *slog.Logger
	Pipeline   Pipeline
	SigningKey string
	Host       string
	Port       int
	Version    string
}

// Server handles HTTP ingress for the runner.
type Server struct {
	app        *fiber.App
	log        *slog.Logger
	pipeline   Pipeline
	signingKey string
	addr       string
	version    string
	ready      atomic.Bool
}

var _ Pipeline = (*executor.Executor)(nil)

// New creates the server and registers routes.
func New(opts Options) *Server {
	s := &Server{
		log:        opts.Logger.With("component", "server"),
		pipeline:   opts.Pipeline,
		signingKey: opts.SigningKey,
		addr:       fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		version:    opts.Version,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "kestrel",
	})

	s.app.Post("/api/alerts", s.handleAlertmanagerWebhook)
	s.app.Post("/api/trigger", s.handleManualTrigger)
	s.app.Post("/api/callback", s.handleCallback)
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ready", s.handleReady)

	return s
}

// Start binds the listen address and serves until Shutdown. A bind failure
// is returned to the caller, which treats it as fatal.
func (s *Server) Start() error {
	s.ready.Store(true)
	s.log.Info("http server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// SetReady flips the readiness probe; the app clears it during shutdown so
// load balancers stop routing before the listener closes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"status": "ok", "version": s.version})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	if !s.ready.Load() {
		return SendError(c, fiber.StatusServiceUnavailable, "not ready")
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"status": "ready"})
}
