package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds one inbound frame
	maxMessageSize = 64 * 1024

	// sendBuffer is how many outbound samples may queue before the client
	// is considered too slow and dropped
	sendBuffer = 256
)

// Client is one websocket connection bridged onto one bus topic.
type Client struct {
	id      uuid.UUID
	topic   string
	gw      *Gateway
	conn    *websocket.Conn
	session *bus.Session

	send      chan []byte
	quit      chan struct{}
	quitOnce  sync.Once
	writeDone chan struct{} // closed when writePump returns

	connected time.Time
	lastSeen  atomic.Int64 // unix nanos

	received atomic.Int64
	sent     atomic.Int64
	invalid  atomic.Int64
}

func newClient(gw *Gateway, conn *websocket.Conn, topic string) *Client {
	now := time.Now()
	c := &Client{
		id:        uuid.New(),
		topic:     topic,
		gw:        gw,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		quit:      make(chan struct{}),
		writeDone: make(chan struct{}),
		connected: now,
	}
	c.lastSeen.Store(now.UnixNano())
	c.session = gw.bus.Join("ws:" + c.id.String())
	return c
}

// deliver queues a bus sample for the client without blocking the bus.
func (c *Client) deliver(s bus.Sample) {
	select {
	case c.send <- s.Payload:
	case <-c.quit:
	default:
		c.gw.logger.Warn("dropping slow client", "client", c.id, "topic", c.topic)
		c.gw.slowDropped.Add(1)
		c.stop()
	}
}

func (c *Client) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// run subscribes the client and pumps until the connection ends. It returns
// only after both pumps have stopped: the conn is recycled once the handler
// returns.
func (c *Client) run() error {
	if _, err := c.session.Subscribe(c.topic, c.deliver, bus.IgnoreLocalPublications()); err != nil {
		return err
	}
	go c.writePump()
	c.readPump() // Blocks until connection closes
	<-c.writeDone
	return nil
}

// readPump publishes every valid envelope the client sends and answers pings.
func (c *Client) readPump() {
	defer func() {
		c.stop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.lastSeen.Store(time.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.received.Add(1)
		c.gw.messagesReceived.Add(1)

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		c.invalid.Add(1)
		c.gw.logger.Debug("invalid client message", "client", c.id, "error", err)
		return
	}

	if msg.Type == protocol.TypePing {
		ping, _ := msg.GetPingData()
		var seq int64
		if ping != nil {
			seq = ping.Seq
		}
		pong, err := protocol.NewPongMessage(seq, msg.Timestamp, time.Now().UnixMilli())
		if err != nil {
			return
		}
		raw, err := pong.Bytes()
		if err != nil {
			return
		}
		select {
		case c.send <- raw:
		default:
		}
		return
	}

	if err := c.session.Publish(c.topic, data); err != nil {
		c.gw.logger.Debug("client publish failed", "client", c.id, "topic", c.topic, "error", err)
	}
}

// writePump is the only goroutine writing to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
			c.sent.Add(1)
			c.gw.messagesSent.Add(1)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Received  int64     `json:"received"`
	Sent      int64     `json:"sent"`
	Invalid   int64     `json:"invalid"`
}

func (c *Client) info() ClientInfo {
	return ClientInfo{
		ID:        c.id.String(),
		Topic:     c.topic,
		Connected: c.connected,
		LastSeen:  time.Unix(0, c.lastSeen.Load()),
		Received:  c.received.Load(),
		Sent:      c.sent.Load(),
		Invalid:   c.invalid.Load(),
	}
}
