package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lodekb/lodestone/internal/bus"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served same-origin or via the CORS middleware; the
	// socket carries no credentials.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams bus events to the client as JSON objects typed by
// their "type" field, with a ping every 30s and a drop_count when the
// subscriber buffer overflowed.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := s.events.Subscribe(bus.DefaultBufferSize)
	defer sub.Close()

	// Drain client frames so close and pong handling work; the feed is
	// one-way otherwise.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readerDone:
			return nil
		case <-ticker.C:
			if err := s.writeEvent(conn, bus.Ping{At: time.Now().UTC()}, 0); err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			dropped := sub.Dropped()
			delta := dropped - reported
			reported = dropped
			if err := s.writeEvent(conn, ev, delta); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev bus.Event, dropped uint64) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	payload["type"] = ev.EventType()
	if dropped > 0 {
		payload["drop_count"] = dropped
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}
