// Package hub is the real-time tracking core: driver sessions, fan-out
// groups, location ingestion, the trip lifecycle and arrival estimates.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"transit-hub/internal/logging"
	"transit-hub/internal/metrics"
	"transit-hub/internal/transit"
)

// Catalog is the durable store. Lookups that match nothing return db.ErrNotFound,
// as do the conditional trip updates.
type Catalog interface {
	DriverByUserID(ctx context.Context, userID string) (*transit.Driver, error)
	VehicleForDriver(ctx context.Context, driverID string) (*transit.Vehicle, error)
	CurrentTripForVehicle(ctx context.Context, vehicleID string) (*transit.Trip, error)
	SetDriverStatus(ctx context.Context, driverID, status string) error
	IncrementDriverTrips(ctx context.Context, driverID string) error
	InsertLocation(ctx context.Context, fix transit.LocationFix) error
	TripRouteID(ctx context.Context, tripID string) (string, error)
	StartTrip(ctx context.Context, tripID, driverID string, at time.Time) (*transit.Trip, error)
	EndTrip(ctx context.Context, tripID, driverID string, passengers int, distanceKm float64, at time.Time) (*transit.Trip, error)
	TripProgress(ctx context.Context, tripID string) (transit.TripProgress, error)
	RouteStopsAfter(ctx context.Context, routeID string, afterOrder, limit int) ([]transit.RouteStop, error)
	UpdatePassengerCount(ctx context.Context, tripID string, count int) error
	RecordStopBoarding(ctx context.Context, tripID, stopID string, boarded int, at time.Time) error
}

// SessionStore is the ephemeral cache. Getters return nil, nil for absent keys.
type SessionStore interface {
	SetDriverSession(ctx context.Context, s transit.DriverSession) error
	DriverSession(ctx context.Context, driverID string) (*transit.DriverSession, error)
	DeleteDriverSession(ctx context.Context, driverID string) error
	SetLocation(ctx context.Context, loc transit.CachedLocation) error
	Location(ctx context.Context, vehicleID string) (*transit.CachedLocation, error)
	SetETA(ctx context.Context, e transit.ETAEntry) error
	ETA(ctx context.Context, tripID, stopID, vehicleID string) (*transit.ETAEntry, error)
	SetActiveTrip(ctx context.Context, t transit.Trip) error
	ActiveTrip(ctx context.Context, tripID string) (*transit.Trip, error)
}

// Broadcaster forwards location fixes to the other hub instances.
type Broadcaster interface {
	PublishLocation(loc transit.CachedLocation) error
}

type Options struct {
	ETAStopLimit    int
	AverageSpeedKmh float64
	LocationRate    float64 // fixes per second per connection; 0 disables
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ETAStopLimit <= 0 {
		o.ETAStopLimit = 5
	}
	if o.AverageSpeedKmh <= 0 {
		o.AverageSpeedKmh = 30
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type handlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

type Hub struct {
	catalog     Catalog
	sessions    SessionStore
	broadcaster Broadcaster
	rooms       *Rooms
	bindings    *bindingTable
	limiters    *limiterTable
	validate    *validator.Validate
	logger      *slog.Logger
	metrics     *metrics.Collector
	opts        Options

	driverHandlers   map[string]handlerFunc
	observerHandlers map[string]handlerFunc
}

// New builds a hub. broadcaster and m may be nil.
func New(catalog Catalog, sessions SessionStore, broadcaster Broadcaster, logger *slog.Logger, m *metrics.Collector, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		catalog:     catalog,
		sessions:    sessions,
		broadcaster: broadcaster,
		rooms:       NewRooms(),
		bindings:    newBindingTable(),
		limiters:    newLimiterTable(opts.LocationRate),
		validate:    validator.New(),
		logger:      logger,
		metrics:     m,
		opts:        opts,
	}
	h.driverHandlers = map[string]handlerFunc{
		EventLocationUpdate:       h.handleLocationUpdate,
		EventStartTrip:            h.handleStartTrip,
		EventEndTrip:              h.handleEndTrip,
		EventPassengerCountUpdate: h.handlePassengerCount,
	}
	h.observerHandlers = map[string]handlerFunc{
		EventSubscribeRoute:     h.handleSubscribeRoute,
		EventSubscribeVehicle:   h.handleSubscribeVehicle,
		EventUnsubscribeRoute:   h.handleUnsubscribeRoute,
		EventUnsubscribeVehicle: h.handleUnsubscribeVehicle,
	}
	return h
}

func (h *Hub) Rooms() *Rooms { return h.rooms }

// Binding returns the driver binding for a connection, if any.
func (h *Hub) Binding(connID string) (DriverBinding, bool) {
	return h.bindings.get(connID)
}

// Connect runs the role-specific connection flow for a freshly
// authenticated connection.
func (h *Hub) Connect(ctx context.Context, c *Conn) {
	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues(string(c.Role)).Inc()
	}
	h.logger.Info("connection opened", "conn_id", c.ID, "user_id", c.UserID, "role", c.Role)

	switch c.Role {
	case transit.RoleDriver:
		if err := h.connectDriver(ctx, c); err != nil {
			h.fail(c, "connect", err)
		}
	case transit.RoleObserver, transit.RolePassenger:
		h.rooms.Join(c, GroupObservers)
	case transit.RoleAdmin:
		h.rooms.Join(c, GroupObservers)
		h.rooms.Join(c, GroupAdmin)
	default:
		h.logger.Warn("connection with unrecognised role gets no groups", "conn_id", c.ID, "role", c.Role)
	}
}

func (h *Hub) handlersFor(role transit.Role) map[string]handlerFunc {
	switch role {
	case transit.RoleDriver:
		return h.driverHandlers
	case transit.RoleObserver, transit.RolePassenger, transit.RoleAdmin:
		return h.observerHandlers
	default:
		return nil
	}
}

// Dispatch routes one inbound event to its handler. Failures are reported
// to c alone and never close the connection.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, event string, data json.RawMessage) {
	fn, ok := h.handlersFor(c.Role)[event]
	if !ok {
		h.fail(c, event, ErrUnknownEvent)
		return
	}
	if h.metrics != nil {
		h.metrics.Events.WithLabelValues(event).Inc()
	}
	start := time.Now()
	err := fn(ctx, c, data)
	if h.metrics != nil {
		h.metrics.HandlerDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		h.fail(c, event, err)
	}
}

func (h *Hub) fail(c *Conn, event string, err error) {
	code, message := classify(err)
	logging.LogError(h.logger, "event failed", err,
		slog.String("conn_id", c.ID),
		slog.String("user_id", c.UserID),
		slog.String("event", event),
		slog.String("code", code))
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(code).Inc()
	}
	if err := c.Emit(EventError, errorOut{Message: message, Code: code}); err != nil {
		h.logger.Warn("error event not delivered", "conn_id", c.ID, "error", err)
	}
}

// RejectFrame reports an inbound frame that could not be decoded at all.
func (h *Hub) RejectFrame(c *Conn, err error) {
	h.fail(c, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
}

// Disconnect releases everything held for c. It must be called exactly once
// when the transport closes.
func (h *Hub) Disconnect(c *Conn) {
	h.rooms.LeaveAll(c)
	h.limiters.remove(c.ID)
	if h.metrics != nil {
		h.metrics.Connections.WithLabelValues(string(c.Role)).Dec()
	}

	b, ok := h.bindings.remove(c.ID)
	if ok && c.Role == transit.RoleDriver {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.releaseDriver(ctx, c, b)
	}
	h.logger.Info("connection closed", "conn_id", c.ID, "user_id", c.UserID, "role", c.Role)
}

// Relay fans out a fix received from another hub instance to local members.
func (h *Hub) Relay(loc transit.CachedLocation) {
	if h.metrics != nil {
		h.metrics.FixesRelayed.Inc()
	}
	h.fanOutLocation(loc, nil)
}

func (h *Hub) publish(group, kind, event string, data any, except *Conn) {
	n := h.rooms.Publish(group, event, data, except)
	if h.metrics != nil && n > 0 {
		h.metrics.FanoutMessages.WithLabelValues(kind).Add(float64(n))
	}
}

func (h *Hub) decode(data json.RawMessage, dst any) error {
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, dst); err != nil {
			return err
		}
	}
	return h.validate.Struct(dst)
}
