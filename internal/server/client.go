package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transit-hub/internal/hub"
	"transit-hub/internal/metrics"
)

var (
	errClientClosed = errors.New("client closed")
	errQueueFull    = errors.New("send queue full")
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// client owns one WebSocket. Reads happen on the handler goroutine, all
// writes on writePump.
type client struct {
	ws      *websocket.Conn
	send    chan hub.Message
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
	metrics *metrics.Collector

	pingPeriod time.Duration
	pongWait   time.Duration
}

func (c *client) Send(msg hub.Message) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		if c.metrics != nil {
			c.metrics.DroppedFrames.Inc()
		}
		c.logger.Warn("slow consumer; dropping frame", "event", msg.Event)
		return errQueueFull
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump dispatches inbound frames in arrival order until the socket fails.
func (c *client) readPump(ctx context.Context, h *hub.Hub, conn *hub.Conn) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}
		var msg hub.Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
			if err == nil {
				err = errors.New("missing event name")
			}
			h.RejectFrame(conn, err)
			continue
		}
		h.Dispatch(ctx, conn, msg.Event, msg.Data)
	}
}
