package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"transit-hub/internal/db"
	"transit-hub/internal/logging"
	"transit-hub/internal/transit"
)

func (h *Hub) handleStartTrip(ctx context.Context, c *Conn, _ json.RawMessage) error {
	b, err := h.binding(c)
	if err != nil {
		return err
	}
	if b.TripID == "" {
		return ErrNoActiveTrip
	}

	now := h.opts.Now().UTC()
	trip, err := h.catalog.StartTrip(ctx, b.TripID, b.DriverID, now)
	if errors.Is(err, db.ErrNotFound) {
		return ErrStartFailed
	}
	if err != nil {
		return err
	}
	if err := h.sessions.SetActiveTrip(ctx, *trip); err != nil {
		logging.LogError(h.logger, "failed to cache active trip", err, slog.String("trip_id", trip.ID))
	}

	started := now
	if trip.ActualStart != nil {
		started = *trip.ActualStart
	}
	if err := c.Emit(EventTripStarted, tripStartedOut{
		TripID:          trip.ID,
		RouteID:         trip.RouteID,
		Status:          trip.Status,
		ActualStartTime: started,
	}); err != nil {
		h.logger.Warn("trip_started not delivered", "conn_id", c.ID, "error", err)
	}
	h.publish(RouteGroup(trip.RouteID), "route", EventTripStatusUpdate, tripStatusOut{
		TripID:    trip.ID,
		VehicleID: b.VehicleID,
		RouteID:   trip.RouteID,
		Status:    trip.Status,
		Timestamp: now,
	}, nil)
	h.logger.Info("trip started", "trip_id", trip.ID, "driver_id", b.DriverID, "route_id", trip.RouteID)
	return nil
}

func (h *Hub) handleEndTrip(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in endTripIn
	if err := h.decode(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	b, err := h.binding(c)
	if err != nil {
		return err
	}
	if b.TripID == "" {
		return ErrNoActiveTrip
	}

	passengers := 0
	if in.PassengerCount != nil {
		passengers = *in.PassengerCount
	}
	distance := 0.0
	if in.DistanceCovered != nil {
		distance = *in.DistanceCovered
	}

	now := h.opts.Now().UTC()
	trip, err := h.catalog.EndTrip(ctx, b.TripID, b.DriverID, passengers, distance, now)
	if errors.Is(err, db.ErrNotFound) {
		return ErrEndFailed
	}
	if err != nil {
		return err
	}

	if err := h.sessions.DeleteDriverSession(ctx, b.DriverID); err != nil {
		logging.LogError(h.logger, "failed to delete driver session", err, slog.String("driver_id", b.DriverID))
	}
	if err := h.catalog.IncrementDriverTrips(ctx, b.DriverID); err != nil {
		logging.LogError(h.logger, "failed to increment driver trips", err, slog.String("driver_id", b.DriverID))
	}

	ended := now
	if trip.ActualEnd != nil {
		ended = *trip.ActualEnd
	}
	if err := c.Emit(EventTripEnded, tripEndedOut{
		TripID:          trip.ID,
		Status:          trip.Status,
		PassengerCount:  trip.PassengerCount,
		DistanceCovered: trip.DistanceCovered,
		ActualEndTime:   ended,
	}); err != nil {
		h.logger.Warn("trip_ended not delivered", "conn_id", c.ID, "error", err)
	}
	h.publish(RouteGroup(trip.RouteID), "route", EventTripStatusUpdate, tripStatusOut{
		TripID:    trip.ID,
		VehicleID: b.VehicleID,
		RouteID:   trip.RouteID,
		Status:    transit.TripCompleted,
		Timestamp: now,
	}, nil)

	// The driver has to reconnect to pick up a new vehicle and trip.
	if b.VehicleID != "" {
		h.rooms.Leave(c, VehicleGroup(b.VehicleID))
	}
	h.bindings.set(c.ID, DriverBinding{DriverID: b.DriverID})

	h.logger.Info("trip ended", "trip_id", trip.ID, "driver_id", b.DriverID,
		"passengers", trip.PassengerCount, "distance_km", trip.DistanceCovered)
	return nil
}
