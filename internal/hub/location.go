package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"transit-hub/internal/logging"
	"transit-hub/internal/transit"
)

func (h *Hub) handleLocationUpdate(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in locationUpdateIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	b, err := h.binding(c)
	if err != nil {
		return err
	}
	if b.VehicleID == "" {
		return ErrNoVehicleAssigned
	}
	if !h.limiters.allow(c.ID) {
		return ErrRateLimited
	}

	ts := h.opts.Now().UTC()
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = in.Timestamp.UTC()
	}
	fix := transit.LocationFix{
		VehicleID: b.VehicleID,
		TripID:    b.TripID,
		Lat:       in.Latitude,
		Lon:       in.Longitude,
		Speed:     in.Speed,
		Heading:   in.Heading,
		Accuracy:  in.Accuracy,
		Timestamp: ts,
	}
	if err := h.catalog.InsertLocation(ctx, fix); err != nil {
		return fmt.Errorf("record location: %w", err)
	}
	if h.metrics != nil {
		h.metrics.FixesIngested.Inc()
	}

	loc := transit.CachedLocation{
		VehicleID: b.VehicleID,
		TripID:    b.TripID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Speed:     in.Speed,
		Heading:   in.Heading,
		Accuracy:  in.Accuracy,
		Timestamp: ts,
	}
	if b.TripID != "" {
		routeID, err := h.catalog.TripRouteID(ctx, b.TripID)
		if err != nil {
			logging.LogError(h.logger, "route lookup failed; skipping route fan-out", err,
				slog.String("trip_id", b.TripID))
		}
		loc.RouteID = routeID
	}

	if err := h.sessions.SetLocation(ctx, loc); err != nil {
		logging.LogError(h.logger, "failed to cache location", err, slog.String("vehicle_id", b.VehicleID))
	}
	if h.broadcaster != nil {
		if err := h.broadcaster.PublishLocation(loc); err != nil {
			logging.LogError(h.logger, "failed to publish location", err, slog.String("vehicle_id", b.VehicleID))
		}
	}

	h.fanOutLocation(loc, c)

	if b.TripID != "" {
		if err := h.publishETAs(ctx, b.VehicleID, b.TripID, loc); err != nil {
			logging.LogError(h.logger, "eta computation failed", err,
				slog.String("trip_id", b.TripID), slog.String("vehicle_id", b.VehicleID))
		}
	}
	return nil
}

// fanOutLocation delivers one fix to the vehicle group, the route group when
// the route is known, and the admins.
func (h *Hub) fanOutLocation(loc transit.CachedLocation, except *Conn) {
	h.publish(VehicleGroup(loc.VehicleID), "vehicle", EventLocationUpdate, loc, except)
	if loc.RouteID != "" {
		h.publish(RouteGroup(loc.RouteID), "route", EventRouteVehicleUpdate, loc, nil)
	}
	h.publish(GroupAdmin, "admin", EventVehicleLocationUpdate, loc, nil)
}
