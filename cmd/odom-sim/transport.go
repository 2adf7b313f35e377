package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-robotstate/internal/httpc"
)

// sender delivers encoded envelopes to one gateway topic.
type sender interface {
	Send(payload []byte) error
	Close() error
}

// wsSender publishes over a /ws/topic connection.
type wsSender struct {
	ws   *websocket.Conn
	wsMu sync.Mutex
}

func dialTopic(base, topic string, onMessage func([]byte)) (*wsSender, error) {
	u := base + "/ws/topic?name=" + url.QueryEscape(topic)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}

	s := &wsSender{ws: ws}

	// Respond to server pings
	ws.SetPingHandler(func(appData string) error {
		s.wsMu.Lock()
		defer s.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(data)
			}
		}
	}()
	return s, nil
}

func (s *wsSender) Send(payload []byte) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSender) Close() error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.ws.Close()
}

// httpSender publishes through POST /api/publish.
type httpSender struct {
	endpoint string
	client   *http.Client
}

func newHTTPSender(base, topic string) *httpSender {
	return &httpSender{
		endpoint: base + "/api/publish?topic=" + url.QueryEscape(topic),
		client:   httpc.NewClient(5 * time.Second),
	}
}

func (s *httpSender) Send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpc.PostRaw(ctx, s.client, s.endpoint, payload, http.StatusAccepted)
}

func (s *httpSender) Close() error { return nil }
