package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"transit-hub/internal/logging"
)

func (h *Hub) handlePassengerCount(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in passengerCountIn
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

	count := *in.Count
	if err := h.catalog.UpdatePassengerCount(ctx, b.TripID, count); err != nil {
		return err
	}
	stopID := string(in.StopID)
	if stopID != "" {
		if err := h.catalog.RecordStopBoarding(ctx, b.TripID, stopID, count, h.opts.Now().UTC()); err != nil {
			return err
		}
	}

	if b.VehicleID != "" {
		h.publish(VehicleGroup(b.VehicleID), "vehicle", EventPassengerCountUpdate, passengerCountOut{
			TripID:    b.TripID,
			VehicleID: b.VehicleID,
			Count:     count,
			StopID:    stopID,
		}, nil)
	}
	logging.LogOperation(h.logger, "passenger_count_recorded",
		slog.String("trip_id", b.TripID),
		slog.String("stop_id", stopID),
		slog.Int("count", count))
	return nil
}
