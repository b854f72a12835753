package hub

import (
	"context"
	"errors"
	"fmt"

	"transit-hub/internal/db"
	"transit-hub/internal/logging"
	"transit-hub/internal/transit"
)

// connectDriver resolves the driver, vehicle and trip behind a driver
// connection and records the binding. Without a profile no binding is stored,
// so every later driver event fails with ErrProfileNotFound.
func (h *Hub) connectDriver(ctx context.Context, c *Conn) error {
	driver, err := h.catalog.DriverByUserID(ctx, c.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("load driver profile: %w", err)
	}

	b := DriverBinding{DriverID: driver.ID}
	var tripStatus string

	vehicle, err := h.catalog.VehicleForDriver(ctx, driver.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load vehicle: %w", err)
	default:
		b.VehicleID = vehicle.ID
		b.Registration = vehicle.Registration
		trip, err := h.catalog.CurrentTripForVehicle(ctx, vehicle.ID)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load trip: %w", err)
		default:
			b.TripID = trip.ID
			tripStatus = trip.Status
		}
	}

	h.bindings.set(c.ID, b)
	if b.VehicleID != "" {
		h.rooms.Join(c, VehicleGroup(b.VehicleID))
	}

	if err := h.catalog.SetDriverStatus(ctx, driver.ID, transit.DriverActive); err != nil {
		logging.LogError(h.logger, "failed to mark driver active", err)
	}
	sess := transit.DriverSession{
		DriverID:     driver.ID,
		ConnectionID: c.ID,
		VehicleID:    b.VehicleID,
		TripID:       b.TripID,
		Status:       transit.SessionConnected,
		Timestamp:    h.opts.Now().UTC(),
	}
	if err := h.sessions.SetDriverSession(ctx, sess); err != nil {
		logging.LogError(h.logger, "failed to cache driver session", err)
	}

	h.logger.Info("driver connected",
		"conn_id", c.ID, "driver_id", driver.ID, "vehicle_id", b.VehicleID, "trip_id", b.TripID)
	return c.Emit(EventDriverStatus, driverStatusOut{
		DriverID:     driver.ID,
		VehicleID:    b.VehicleID,
		Registration: b.Registration,
		TripID:       b.TripID,
		TripStatus:   tripStatus,
		DriverStatus: transit.DriverActive,
	})
}

// releaseDriver tears down what a driver connection left behind. The session
// is only deleted while it still names this connection; an active trip is
// left as it is.
func (h *Hub) releaseDriver(ctx context.Context, c *Conn, b DriverBinding) {
	sess, err := h.sessions.DriverSession(ctx, b.DriverID)
	switch {
	case err != nil:
		logging.LogError(h.logger, "failed to read driver session", err)
	case sess != nil && sess.ConnectionID == c.ID:
		if err := h.sessions.DeleteDriverSession(ctx, b.DriverID); err != nil {
			logging.LogError(h.logger, "failed to delete driver session", err)
		}
	}

	if sess != nil && sess.ConnectionID != c.ID {
		h.logger.Info("driver reconnected elsewhere; keeping session",
			"conn_id", c.ID, "driver_id", b.DriverID, "session_conn_id", sess.ConnectionID)
		return
	}
	if err := h.catalog.SetDriverStatus(ctx, b.DriverID, transit.DriverInactive); err != nil {
		logging.LogError(h.logger, "failed to mark driver inactive", err)
	}
	h.logger.Info("driver disconnected", "conn_id", c.ID, "driver_id", b.DriverID, "trip_id", b.TripID)
}

// binding returns the driver binding for c or ErrProfileNotFound.
func (h *Hub) binding(c *Conn) (DriverBinding, error) {
	b, ok := h.bindings.get(c.ID)
	if !ok {
		return DriverBinding{}, ErrProfileNotFound
	}
	return b, nil
}
