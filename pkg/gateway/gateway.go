// Package gateway exposes the topic bus to dashboards and robot drivers over
// websocket and HTTP, along with the engine status and metrics.
package gateway

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
	"github.com/teslashibe/go-robotstate/pkg/robotstate"
)

// StatusProvider reports the engine status. *robotstate.Node implements it.
type StatusProvider interface {
	Status() robotstate.Status
}

// Gateway bridges websocket clients and HTTP callers onto the bus.
type Gateway struct {
	bus      *bus.Bus
	session  *bus.Session // used by POST /api/publish
	status   StatusProvider
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	// Stats
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	httpPublished    atomic.Int64
	slowDropped      atomic.Int64
}

// New creates a gateway. status and gatherer may be nil, which disables
// /api/state and /metrics respectively.
func New(b *bus.Bus, status StatusProvider, gatherer prometheus.Gatherer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		bus:      b,
		session:  b.Join("gateway_http"),
		status:   status,
		gatherer: gatherer,
		logger:   logger.With("component", "gateway"),
		clients:  make(map[*Client]struct{}),
	}
}

// RegisterRoutes registers the websocket, health and metrics routes.
func (g *Gateway) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/topic", func(c *fiber.Ctx) error {
		if c.Query("name") == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name query parameter is required")
		}
		return c.Next()
	}, websocket.New(g.handleTopic))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if g.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAPIRoutes registers the JSON API under api.
func (g *Gateway) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/state", func(c *fiber.Ctx) error {
		if g.status == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no state source"})
		}
		return c.JSON(g.status.Status())
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(g.Stats())
	})

	api.Get("/clients", func(c *fiber.Ctx) error {
		infos := g.ClientInfos()
		return c.JSON(fiber.Map{
			"clients": infos,
			"count":   len(infos),
		})
	})

	api.Get("/topics", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"topics": g.bus.Topics()})
	})

	api.Post("/publish", g.handlePublish)
}

func (g *Gateway) handlePublish(c *fiber.Ctx) error {
	topic := c.Query("topic")
	if topic == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "topic query parameter is required"})
	}

	body := append([]byte(nil), c.Body()...)
	msg, err := protocol.ParseMessage(body)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := g.session.Publish(topic, body); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, bus.ErrClosed) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	g.httpPublished.Add(1)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "published", "topic": topic})
}

// handleTopic handles one websocket connection.
func (g *Gateway) handleTopic(conn *websocket.Conn) {
	topic := conn.Query("name")
	client := newClient(g, conn, topic)

	g.mu.Lock()
	g.clients[client] = struct{}{}
	count := len(g.clients)
	g.mu.Unlock()

	g.logger.Info("client connected", "client", client.id, "topic", topic, "total", count)

	defer func() {
		client.session.Close()

		g.mu.Lock()
		delete(g.clients, client)
		count := len(g.clients)
		g.mu.Unlock()

		g.logger.Info("client disconnected", "client", client.id, "topic", topic, "remaining", count)
	}()

	if err := client.run(); err != nil {
		g.logger.Warn("client subscribe failed", "client", client.id, "topic", topic, "error", err)
		conn.Close()
	}
}

// ClientCount returns the number of connected websocket clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// ClientInfos returns the connected clients sorted by connect time.
func (g *Gateway) ClientInfos() []ClientInfo {
	g.mu.RLock()
	infos := make([]ClientInfo, 0, len(g.clients))
	for c := range g.clients {
		infos = append(infos, c.info())
	}
	g.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Connected.Before(infos[j].Connected) })
	return infos
}

// Stats contains gateway statistics.
type Stats struct {
	Clients          int       `json:"clients"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesSent     int64     `json:"messages_sent"`
	HTTPPublished    int64     `json:"http_published"`
	SlowDropped      int64     `json:"slow_dropped"`
	Bus              bus.Stats `json:"bus"`
}

// Stats returns gateway and bus statistics.
func (g *Gateway) Stats() Stats {
	return Stats{
		Clients:          g.ClientCount(),
		MessagesReceived: g.messagesReceived.Load(),
		MessagesSent:     g.messagesSent.Load(),
		HTTPPublished:    g.httpPublished.Load(),
		SlowDropped:      g.slowDropped.Load(),
		Bus:              g.bus.Stats(),
	}
}

// Close leaves the bus and stops every client.
func (g *Gateway) Close() error {
	g.mu.RLock()
	for c := range g.clients {
		c.stop()
	}
	g.mu.RUnlock()
	return g.session.Close()
}
