package gateway

import (
	"context"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server is the HTTP server hosting a Gateway.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	requestLog bool
}

// WithRequestLog logs every HTTP request.
func WithRequestLog() ServerOption {
	return func(o *serverOptions) { o.requestLog = true }
}

// NewServer creates a server with every gateway route registered.
func NewServer(port string, gw *Gateway, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Robot State Gateway",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	// CORS for the browser dashboard
	app.Use(cors.New())
	if o.requestLog {
		app.Use(fiberlogger.New())
	}

	gw.RegisterRoutes(app)
	gw.RegisterAPIRoutes(app.Group("/api"))

	return &Server{app: app, port: port, logger: logger.With("component", "http")}
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Start listens on the configured port. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// Serve serves on an existing listener. It blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
