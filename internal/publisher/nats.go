package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-hub/internal/transit"
)

// AllVehiclesSubject carries every location fix; each hub instance subscribes to it.
const AllVehiclesSubject = "vehicles.all"

type NATSPublisher struct {
	nc          *nats.Conn
	origin      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
	sub         *nats.Subscription
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to NATS. origin identifies this hub instance on
// the wire so that its own messages can be dropped on receipt.
func NewNATSPublisher(url, origin string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-hub"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, origin: origin, logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

// JetStream exposes the connection's JetStream context for the KV session store.
func (p *NATSPublisher) JetStream() (nats.JetStreamContext, error) {
	return p.nc.JetStream()
}

func (p *NATSPublisher) Close() {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type locationEnvelope struct {
	Origin   string                 `json:"origin"`
	Location transit.CachedLocation `json:"location"`
}

// VehicleSubject is the per-vehicle subject for a location fix.
func VehicleSubject(vehicleID string) string {
	return "vehicle." + subjectToken(vehicleID)
}

// PublishLocation sends loc on the vehicle's subject and on AllVehiclesSubject.
func (p *NATSPublisher) PublishLocation(loc transit.CachedLocation) error {
	b, err := json.Marshal(locationEnvelope{Origin: p.origin, Location: loc})
	if err != nil {
		return err
	}
	var firstErr error
	for _, subject := range []string{VehicleSubject(loc.VehicleID), AllVehiclesSubject} {
		if err := p.publish(subject, b); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s: %w", subject, err)
		}
	}
	return firstErr
}

func (p *NATSPublisher) publish(subject string, b []byte) error {
	if p.logSubjects {
		p.logger.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err := p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// SubscribeLocations delivers fixes published by other hub instances.
func (p *NATSPublisher) SubscribeLocations(fn func(transit.CachedLocation)) error {
	sub, err := p.nc.Subscribe(AllVehiclesSubject, func(msg *nats.Msg) {
		loc, ok := decodeForeign(msg.Data, p.origin)
		if !ok {
			return
		}
		fn(loc)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", AllVehiclesSubject, err)
	}
	p.sub = sub
	return nil
}

// decodeForeign returns the location carried by data unless it is malformed
// or was published by origin itself.
func decodeForeign(data []byte, origin string) (transit.CachedLocation, bool) {
	var env locationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return transit.CachedLocation{}, false
	}
	if env.Origin == origin || env.Location.VehicleID == "" {
		return transit.CachedLocation{}, false
	}
	return env.Location, true
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
