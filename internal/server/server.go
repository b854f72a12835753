// Package server exposes the hub over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"transit-hub/internal/auth"
	"transit-hub/internal/hub"
	"transit-hub/internal/logging"
	"transit-hub/internal/metrics"
)

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Verify(token string) (auth.Identity, error)
}

type Options struct {
	SendQueue  int
	PingPeriod time.Duration
	PongWait   time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

type Server struct {
	hub      *hub.Hub
	auth     Authenticator
	logger   *slog.Logger
	metrics  *metrics.Collector
	opts     Options
	upgrader websocket.Upgrader

	// ctx outlives individual requests; cancelling it closes every socket.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(h *hub.Hub, a Authenticator, logger *slog.Logger, m *metrics.Collector, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		hub:     h,
		auth:    a,
		logger:  logger,
		metrics: m,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/ws", s.handleWS)
	router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)
	return router
}

// Close disconnects every open socket. The http.Server must be shut down
// separately; hijacked connections are not tracked by it.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		s.reject(w, r, hub.ErrAuthRejected)
		return
	}
	id, err := s.auth.Verify(token)
	if err != nil {
		s.reject(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logging.LogError(s.logger, "websocket upgrade failed", err)
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)
	cl := &client{
		ws:         ws,
		send:       make(chan hub.Message, s.opts.SendQueue),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    s.metrics,
		pingPeriod: s.opts.PingPeriod,
		pongWait:   s.opts.PongWait,
	}
	conn := hub.NewConn(connID, id.UserID, id.Role, cl)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go cl.writePump()
	go func() {
		select {
		case <-ctx.Done():
			cl.close()
		case <-cl.done:
		}
		// Unblocks readPump.
		ws.Close()
	}()

	s.hub.Connect(ctx, conn)
	cl.readPump(ctx, s.hub, conn)

	cl.close()
	s.hub.Disconnect(conn)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Info("connection rejected", "remote", r.RemoteAddr, "error", err.Error())
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("AuthRejected").Inc()
	}
	http.Error(w, hub.ErrAuthRejected.Error(), http.StatusUnauthorized)
}
