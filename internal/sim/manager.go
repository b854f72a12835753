// Package sim drives synthetic drivers against a running hub: each one
// connects over WebSocket, starts its trip, walks the route's stops and ends
// the trip.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transit-hub/internal/geo"
	"transit-hub/internal/hub"
	"transit-hub/internal/transit"
)

// RouteSource provides the stop sequence a simulated trip follows.
type RouteSource interface {
	TripRouteID(ctx context.Context, tripID string) (string, error)
	RouteStopsAfter(ctx context.Context, routeID string, afterOrder, limit int) ([]transit.RouteStop, error)
}

// TokenSigner issues the credential a simulated driver connects with.
type TokenSigner interface {
	Sign(userID string, role transit.Role, ttl time.Duration) (string, error)
}

const maxRouteStops = 1000

type Manager struct {
	hubURL          string
	signer          TokenSigner
	routes          RouteSource
	publishInterval time.Duration
	speedMultiplier float64
	speedKmh        float64
	logger          *slog.Logger
	dialer          *websocket.Dialer

	mu      sync.Mutex
	running map[string]context.CancelFunc // user id -> cancel
	wg      sync.WaitGroup
}

func NewManager(hubURL string, signer TokenSigner, routes RouteSource, publishInterval time.Duration, speedMultiplier, speedKmh float64, logger *slog.Logger) *Manager {
	return &Manager{
		hubURL:          hubURL,
		signer:          signer,
		routes:          routes,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		speedKmh:        speedKmh,
		logger:          logger,
		dialer:          websocket.DefaultDialer,
		running:         make(map[string]context.CancelFunc),
	}
}

// Start launches one simulated driver per user id.
func (m *Manager) Start(ctx context.Context, userIDs []string) {
	for _, id := range userIDs {
		m.startDriver(ctx, id)
	}
}

// Running reports how many simulated drivers are still active.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) startDriver(parent context.Context, userID string) {
	m.mu.Lock()
	if _, exists := m.running[userID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[userID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("starting simulated driver", "user_id", userID)
	go func() {
		defer m.wg.Done()
		if err := m.runDriver(ctx, userID); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("simulated driver failed", "user_id", userID, "error", err)
		}
		m.mu.Lock()
		delete(m.running, userID)
		m.mu.Unlock()
		cancel()
	}()
}

// Wait blocks until every simulated driver has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// driverConn serialises writes; reads happen on a single goroutine that
// forwards frames to inbox.
type driverConn struct {
	ws    *websocket.Conn
	inbox chan hub.Message
}

func (d *driverConn) send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return d.ws.WriteJSON(hub.Message{Event: event, Data: b})
}

// await returns the first frame named one of events; an error frame fails it.
func (d *driverConn) await(ctx context.Context, events ...string) (hub.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return hub.Message{}, ctx.Err()
		case msg, ok := <-d.inbox:
			if !ok {
				return hub.Message{}, errors.New("connection closed")
			}
			if msg.Event == hub.EventError {
				return msg, fmt.Errorf("hub error: %s", msg.Data)
			}
			for _, e := range events {
				if msg.Event == e {
					return msg, nil
				}
			}
		}
	}
}

// drain logs and discards whatever the hub has sent since the last tick.
func (d *driverConn) drain(logger *slog.Logger) {
	for {
		select {
		case msg, ok := <-d.inbox:
			if !ok {
				return
			}
			if msg.Event == hub.EventError {
				logger.Warn("hub rejected event", "data", string(msg.Data))
			}
		default:
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, userID string) (*driverConn, error) {
	token, err := m.signer.Sign(userID, transit.RoleDriver, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	u, err := url.Parse(m.hubURL)
	if err != nil {
		return nil, fmt.Errorf("hub url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := m.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	resp.Body.Close()

	d := &driverConn{ws: ws, inbox: make(chan hub.Message, 64)}
	go func() {
		defer close(d.inbox)
		for {
			var msg hub.Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case d.inbox <- msg:
			default:
				// Fan-out the driver does not wait for.
			}
		}
	}()
	return d, nil
}

type driverStatus struct {
	TripID     string `json:"tripId"`
	TripStatus string `json:"tripStatus"`
}

func (m *Manager) runDriver(ctx context.Context, userID string) error {
	d, err := m.dial(ctx, userID)
	if err != nil {
		return err
	}
	defer d.ws.Close()

	msg, err := d.await(ctx, hub.EventDriverStatus)
	if err != nil {
		return err
	}
	var st driverStatus
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return fmt.Errorf("decode driver status: %w", err)
	}
	if st.TripID == "" {
		return errors.New("no trip bound to driver's vehicle")
	}

	routeID, err := m.routes.TripRouteID(ctx, st.TripID)
	if err != nil {
		return fmt.Errorf("trip route: %w", err)
	}
	stops, err := m.routes.RouteStopsAfter(ctx, routeID, 0, maxRouteStops)
	if err != nil {
		return fmt.Errorf("route stops: %w", err)
	}
	if len(stops) < 2 {
		return fmt.Errorf("route %s has fewer than two stops", routeID)
	}

	if st.TripStatus == transit.TripScheduled {
		if err := d.send(hub.EventStartTrip, nil); err != nil {
			return err
		}
		if _, err := d.await(ctx, hub.EventTripStarted); err != nil {
			return err
		}
	}
	m.logger.Info("driving trip", "user_id", userID, "trip_id", st.TripID, "route_id", routeID, "stops", len(stops))

	path := newRoutePath(stops, m.speedKmh)
	start := time.Now()
	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	nextStop := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			elapsed := time.Duration(float64(now.Sub(start)) * m.speedMultiplier)
			dist := path.distanceAt(elapsed)
			pos, heading := geo.Along(path.points, path.cum, dist)
			d.drain(m.logger)
			if err := d.send(hub.EventLocationUpdate, map[string]any{
				"latitude":  pos.Lat,
				"longitude": pos.Lon,
				"heading":   heading,
				"speed":     m.speedKmh,
				"timestamp": now.UTC(),
			}); err != nil {
				return fmt.Errorf("send location: %w", err)
			}

			for nextStop < len(stops) && dist >= path.cum[nextStop] {
				s := stops[nextStop]
				if err := d.send(hub.EventPassengerCountUpdate, map[string]any{
					"count":  boardingAt(s),
					"stopId": s.StopID,
				}); err != nil {
					return fmt.Errorf("send passenger count: %w", err)
				}
				nextStop++
			}

			if dist >= path.total() {
				if err := d.send(hub.EventEndTrip, map[string]any{
					"passengerCount":  boardingAt(stops[len(stops)-1]),
					"distanceCovered": geo.RoundTo(path.total(), 2),
				}); err != nil {
					return err
				}
				if _, err := d.await(ctx, hub.EventTripEnded); err != nil {
					return err
				}
				m.logger.Info("finished trip", "user_id", userID, "trip_id", st.TripID)
				return nil
			}
		}
	}
}

// boardingAt is a deterministic passenger count so repeated runs are comparable.
func boardingAt(s transit.RouteStop) int {
	return (s.StopOrder*7)%23 + 1
}
