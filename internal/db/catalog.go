package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transit-hub/internal/transit"
)

// Catalog is the hub's view of the durable store. Rows are shared with the
// CRUD surface, so every mutation is matched on its identifying columns.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

const tripColumns = `id, vehicle_id, COALESCE(driver_id::text, ''), route_id, COALESCE(direction, ''), status,
       scheduled_start_time, scheduled_end_time, actual_start_time, actual_end_time,
       COALESCE(passenger_count, 0), COALESCE(distance_covered, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*transit.Trip, error) {
	var t transit.Trip
	var schedStart, schedEnd, actStart, actEnd sql.NullTime
	if err := row.Scan(&t.ID, &t.VehicleID, &t.DriverID, &t.RouteID, &t.Direction, &t.Status,
		&schedStart, &schedEnd, &actStart, &actEnd, &t.PassengerCount, &t.DistanceCovered); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ScheduledStart = timePtr(schedStart)
	t.ScheduledEnd = timePtr(schedEnd)
	t.ActualStart = timePtr(actStart)
	t.ActualEnd = timePtr(actEnd)
	return &t, nil
}

func (c *Catalog) DriverByUserID(ctx context.Context, userID string) (*transit.Driver, error) {
	q := `SELECT id, user_id, COALESCE(name, ''), status, COALESCE(total_trips, 0) FROM drivers WHERE user_id = $1`
	var d transit.Driver
	err := c.db.QueryRowContext(ctx, q, userID).Scan(&d.ID, &d.UserID, &d.Name, &d.Status, &d.TotalTrips)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query driver: %w", err)
	}
	return &d, nil
}

func (c *Catalog) VehicleForDriver(ctx context.Context, driverID string) (*transit.Vehicle, error) {
	q := `SELECT id, registration_number, driver_id FROM vehicles WHERE driver_id = $1 ORDER BY created_at LIMIT 1`
	var v transit.Vehicle
	err := c.db.QueryRowContext(ctx, q, driverID).Scan(&v.ID, &v.Registration, &v.DriverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query vehicle: %w", err)
	}
	return &v, nil
}

// CurrentTripForVehicle returns the vehicle's active trip, or failing that
// its earliest scheduled one.
func (c *Catalog) CurrentTripForVehicle(ctx context.Context, vehicleID string) (*transit.Trip, error) {
	q := `SELECT ` + tripColumns + `
FROM trips
WHERE vehicle_id = $1 AND status IN ('active', 'scheduled')
ORDER BY (status = 'active') DESC, scheduled_start_time NULLS LAST
LIMIT 1`
	t, err := scanTrip(c.db.QueryRowContext(ctx, q, vehicleID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query current trip: %w", err)
	}
	return t, err
}

func (c *Catalog) SetDriverStatus(ctx context.Context, driverID, status string) error {
	q := `UPDATE drivers SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := c.db.ExecContext(ctx, q, driverID, status); err != nil {
		return fmt.Errorf("update driver status: %w", err)
	}
	return nil
}

func (c *Catalog) IncrementDriverTrips(ctx context.Context, driverID string) error {
	q := `UPDATE drivers SET total_trips = COALESCE(total_trips, 0) + 1, updated_at = NOW() WHERE id = $1`
	if _, err := c.db.ExecContext(ctx, q, driverID); err != nil {
		return fmt.Errorf("increment driver trips: %w", err)
	}
	return nil
}

func (c *Catalog) InsertLocation(ctx context.Context, fix transit.LocationFix) error {
	q := `INSERT INTO location_history (vehicle_id, trip_id, location, speed, heading, accuracy, recorded_at)
VALUES ($1, $2, ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography, $5, $6, $7, $8)`
	_, err := c.db.ExecContext(ctx, q, fix.VehicleID, nullString(fix.TripID), fix.Lat, fix.Lon,
		fix.Speed, fix.Heading, fix.Accuracy, fix.Timestamp)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

func (c *Catalog) TripRouteID(ctx context.Context, tripID string) (string, error) {
	var routeID string
	err := c.db.QueryRowContext(ctx, `SELECT route_id FROM trips WHERE id = $1`, tripID).Scan(&routeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query trip route: %w", err)
	}
	return routeID, nil
}

// StartTrip moves a scheduled trip owned by driverID to active.
func (c *Catalog) StartTrip(ctx context.Context, tripID, driverID string, at time.Time) (*transit.Trip, error) {
	q := `UPDATE trips
SET status = 'active', actual_start_time = $3, updated_at = NOW()
WHERE id = $1 AND driver_id = $2 AND status = 'scheduled'
RETURNING ` + tripColumns
	t, err := scanTrip(c.db.QueryRowContext(ctx, q, tripID, driverID, at))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("start trip: %w", err)
	}
	return t, err
}

// EndTrip moves an active trip owned by driverID to completed.
func (c *Catalog) EndTrip(ctx context.Context, tripID, driverID string, passengers int, distanceKm float64, at time.Time) (*transit.Trip, error) {
	q := `UPDATE trips
SET status = 'completed', actual_end_time = $3, passenger_count = $4, distance_covered = $5, updated_at = NOW()
WHERE id = $1 AND driver_id = $2 AND status = 'active'
RETURNING ` + tripColumns
	t, err := scanTrip(c.db.QueryRowContext(ctx, q, tripID, driverID, at, passengers, distanceKm))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("end trip: %w", err)
	}
	return t, err
}

// TripProgress returns the trip's route and the highest stop order among
// its recorded arrivals.
func (c *Catalog) TripProgress(ctx context.Context, tripID string) (transit.TripProgress, error) {
	q := `SELECT t.route_id, COALESCE(MAX(rs.stop_order), 0)
FROM trips t
LEFT JOIN trip_stops ts ON ts.trip_id = t.id AND ts.actual_arrival_time IS NOT NULL
LEFT JOIN route_stops rs ON rs.route_id = t.route_id AND rs.stop_id = ts.stop_id
WHERE t.id = $1
GROUP BY t.route_id`
	var p transit.TripProgress
	if err := c.db.QueryRowContext(ctx, q, tripID).Scan(&p.RouteID, &p.LastVisitedOrder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, fmt.Errorf("query trip progress: %w", err)
	}
	return p, nil
}

func (c *Catalog) RouteStopsAfter(ctx context.Context, routeID string, afterOrder, limit int) ([]transit.RouteStop, error) {
	q := `SELECT rs.route_id, rs.stop_id, COALESCE(s.name, ''),
       ST_Y(s.location::geometry), ST_X(s.location::geometry),
       rs.stop_order, COALESCE(rs.estimated_travel_time, 0)
FROM route_stops rs
JOIN stops s ON s.id = rs.stop_id
WHERE rs.route_id = $1 AND rs.stop_order > $2
ORDER BY rs.stop_order
LIMIT $3`
	rows, err := c.db.QueryContext(ctx, q, routeID, afterOrder, limit)
	if err != nil {
		return nil, fmt.Errorf("query route stops: %w", err)
	}
	defer rows.Close()

	var stops []transit.RouteStop
	for rows.Next() {
		var s transit.RouteStop
		if err := rows.Scan(&s.RouteID, &s.StopID, &s.StopName, &s.Lat, &s.Lon, &s.StopOrder, &s.TravelMinutesFromPrev); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func (c *Catalog) UpdatePassengerCount(ctx context.Context, tripID string, count int) error {
	q := `UPDATE trips SET passenger_count = $2, updated_at = NOW() WHERE id = $1`
	if _, err := c.db.ExecContext(ctx, q, tripID, count); err != nil {
		return fmt.Errorf("update passenger count: %w", err)
	}
	return nil
}

// RecordStopBoarding upserts the trip_stops row for (trip, stop); later calls
// overwrite arrival time and boarded count.
func (c *Catalog) RecordStopBoarding(ctx context.Context, tripID, stopID string, boarded int, at time.Time) error {
	q := `INSERT INTO trip_stops (trip_id, stop_id, actual_arrival_time, passengers_boarded)
VALUES ($1, $2, $3, $4)
ON CONFLICT (trip_id, stop_id)
DO UPDATE SET actual_arrival_time = EXCLUDED.actual_arrival_time, passengers_boarded = EXCLUDED.passengers_boarded`
	if _, err := c.db.ExecContext(ctx, q, tripID, stopID, at, boarded); err != nil {
		return fmt.Errorf("upsert trip stop: %w", err)
	}
	return nil
}
