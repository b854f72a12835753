package hub

import (
	"context"
	"fmt"
	"log/slog"

	"transit-hub/internal/geo"
	"transit-hub/internal/logging"
	"transit-hub/internal/transit"
)

// upcomingStops keeps the stops strictly after lastVisited, in the order
// given, capped at limit.
func upcomingStops(stops []transit.RouteStop, lastVisited, limit int) []transit.RouteStop {
	out := make([]transit.RouteStop, 0, limit)
	for _, s := range stops {
		if len(out) == limit {
			break
		}
		if s.StopOrder > lastVisited {
			out = append(out, s)
		}
	}
	return out
}

// publishETAs estimates arrival at the next stops of a trip from the given
// position and sends the batch to all observers.
func (h *Hub) publishETAs(ctx context.Context, vehicleID, tripID string, loc transit.CachedLocation) error {
	progress, err := h.catalog.TripProgress(ctx, tripID)
	if err != nil {
		return fmt.Errorf("trip progress: %w", err)
	}
	stops, err := h.catalog.RouteStopsAfter(ctx, progress.RouteID, progress.LastVisitedOrder, h.opts.ETAStopLimit)
	if err != nil {
		return fmt.Errorf("upcoming stops: %w", err)
	}
	stops = upcomingStops(stops, progress.LastVisitedOrder, h.opts.ETAStopLimit)
	if len(stops) == 0 {
		return nil
	}

	now := h.opts.Now().UTC()
	from := geo.Point{Lat: loc.Latitude, Lon: loc.Longitude}
	etas := make([]stopETA, 0, len(stops))
	for _, s := range stops {
		d := geo.DistanceKm(from, geo.Point{Lat: s.Lat, Lon: s.Lon})
		e := stopETA{
			StopID:    s.StopID,
			StopName:  s.StopName,
			StopOrder: s.StopOrder,
			ETA:       geo.MinutesAtSpeed(d, h.opts.AverageSpeedKmh),
			Distance:  geo.RoundTo(d, 2),
		}
		etas = append(etas, e)

		entry := transit.ETAEntry{
			TripID:     tripID,
			StopID:     s.StopID,
			VehicleID:  vehicleID,
			ETAMinutes: e.ETA,
			DistanceKm: e.Distance,
			ComputedAt: now,
		}
		if err := h.sessions.SetETA(ctx, entry); err != nil {
			logging.LogError(h.logger, "failed to cache eta", err,
				slog.String("trip_id", tripID), slog.String("stop_id", s.StopID))
		}
	}

	if h.metrics != nil {
		h.metrics.ETABatches.Inc()
	}
	h.publish(GroupObservers, "observers", EventETAUpdate, etaUpdateOut{
		VehicleID: vehicleID,
		TripID:    tripID,
		ETAs:      etas,
		Timestamp: now,
	}, nil)
	return nil
}
