package transit

import "time"

type Role string

const (
	RoleDriver    Role = "driver"
	RoleObserver  Role = "observer"
	RolePassenger Role = "passenger"
	RoleAdmin     Role = "admin"
)

// Trip statuses as stored in trips.status.
const (
	TripScheduled = "scheduled"
	TripActive    = "active"
	TripCompleted = "completed"
	TripCancelled = "cancelled"
)

// Driver profile statuses.
const (
	DriverActive   = "active"
	DriverInactive = "inactive"
)

const SessionConnected = "connected"

type Driver struct {
	ID         string
	UserID     string
	Name       string
	Status     string
	TotalTrips int
}

type Vehicle struct {
	ID           string
	Registration string
	DriverID     string
}

type Trip struct {
	ID              string     `json:"id"`
	VehicleID       string     `json:"vehicleId"`
	DriverID        string     `json:"driverId"`
	RouteID         string     `json:"routeId"`
	Direction       string     `json:"direction,omitempty"`
	Status          string     `json:"status"`
	ScheduledStart  *time.Time `json:"scheduledStartTime,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduledEndTime,omitempty"`
	ActualStart     *time.Time `json:"actualStartTime,omitempty"`
	ActualEnd       *time.Time `json:"actualEndTime,omitempty"`
	PassengerCount  int        `json:"passengerCount"`
	DistanceCovered float64    `json:"distanceCovered"`
}

// LocationFix is one durable row of location_history.
type LocationFix struct {
	VehicleID string
	TripID    string // empty when no trip is bound
	Lat       float64
	Lon       float64
	Speed     *float64
	Heading   *float64
	Accuracy  *float64
	Timestamp time.Time
}

// CachedLocation is the last known position of a vehicle. It is also the
// payload relayed between hub instances, hence RouteID.
type CachedLocation struct {
	VehicleID string    `json:"vehicleId"`
	TripID    string    `json:"tripId,omitempty"`
	RouteID   string    `json:"routeId,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
	Accuracy  *float64  `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type RouteStop struct {
	RouteID               string
	StopID                string
	StopName              string
	Lat                   float64
	Lon                   float64
	StopOrder             int // 1-based, unique per route
	TravelMinutesFromPrev int
}

type TripStop struct {
	TripID             string
	StopID             string
	ScheduledArrival   *time.Time
	ActualArrival      *time.Time
	ScheduledDeparture *time.Time
	ActualDeparture    *time.Time
	PassengersBoarded  int
	PassengersAlighted int
}

// TripProgress summarises where a trip is on its route.
type TripProgress struct {
	RouteID          string
	LastVisitedOrder int // 0 when no stop has been reached
}

type ETAEntry struct {
	TripID     string    `json:"tripId"`
	StopID     string    `json:"stopId"`
	VehicleID  string    `json:"vehicleId"`
	ETAMinutes int       `json:"eta"`
	DistanceKm float64   `json:"distance"`
	ComputedAt time.Time `json:"computedAt"`
}

type DriverSession struct {
	DriverID     string    `json:"driverId"`
	ConnectionID string    `json:"socketId"`
	VehicleID    string    `json:"vehicleId,omitempty"`
	TripID       string    `json:"tripId,omitempty"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}
