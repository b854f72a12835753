package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Inbound driver events.
const (
	EventLocationUpdate       = "location_update"
	EventStartTrip            = "start_trip"
	EventEndTrip              = "end_trip"
	EventPassengerCountUpdate = "passenger_count_update"
)

// Inbound observer events.
const (
	EventSubscribeRoute     = "subscribe_route"
	EventSubscribeVehicle   = "subscribe_vehicle"
	EventUnsubscribeRoute   = "unsubscribe_route"
	EventUnsubscribeVehicle = "unsubscribe_vehicle"
)

// Outbound events. location_update and passenger_count_update reuse the
// inbound names.
const (
	EventDriverStatus          = "driver_status"
	EventRouteVehicleUpdate    = "route_vehicle_update"
	EventVehicleLocationUpdate = "vehicle_location_update"
	EventTripStarted           = "trip_started"
	EventTripStatusUpdate      = "trip_status_update"
	EventTripEnded             = "trip_ended"
	EventETAUpdate             = "eta_update"
	EventSubscribed            = "subscribed"
	EventUnsubscribed          = "unsubscribed"
	EventError                 = "error"
)

// Message is one frame on the wire, in either direction.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ID accepts identifiers sent either as JSON strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// FixTime accepts RFC 3339 strings or epoch milliseconds.
type FixTime struct {
	time.Time
}

func (t *FixTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return t.Time.UnmarshalJSON(b)
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be RFC 3339 or epoch milliseconds: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

type locationUpdateIn struct {
	Latitude  float64  `json:"latitude" validate:"required,latitude"`
	Longitude float64  `json:"longitude" validate:"required,longitude"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp *FixTime `json:"timestamp"`
}

type endTripIn struct {
	PassengerCount  *int     `json:"passengerCount" validate:"omitempty,gte=0"`
	DistanceCovered *float64 `json:"distanceCovered" validate:"omitempty,gte=0"`
}

type passengerCountIn struct {
	Count  *int `json:"count" validate:"required,gte=0"`
	StopID ID   `json:"stopId"`
}

type routeIn struct {
	RouteID ID `json:"routeId" validate:"required"`
}

type vehicleIn struct {
	VehicleID ID `json:"vehicleId" validate:"required"`
}

type driverStatusOut struct {
	DriverID     string `json:"driverId"`
	VehicleID    string `json:"vehicleId,omitempty"`
	Registration string `json:"registration,omitempty"`
	TripID       string `json:"tripId,omitempty"`
	TripStatus   string `json:"tripStatus,omitempty"`
	DriverStatus string `json:"driverStatus"`
}

type tripStartedOut struct {
	TripID          string    `json:"tripId"`
	RouteID         string    `json:"routeId"`
	Status          string    `json:"status"`
	ActualStartTime time.Time `json:"actualStartTime"`
}

type tripStatusOut struct {
	TripID    string    `json:"tripId"`
	VehicleID string    `json:"vehicleId"`
	RouteID   string    `json:"routeId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type tripEndedOut struct {
	TripID          string    `json:"tripId"`
	Status          string    `json:"status"`
	PassengerCount  int       `json:"passengerCount"`
	DistanceCovered float64   `json:"distanceCovered"`
	ActualEndTime   time.Time `json:"actualEndTime"`
}

type passengerCountOut struct {
	TripID    string `json:"tripId"`
	VehicleID string `json:"vehicleId"`
	Count     int    `json:"count"`
	StopID    string `json:"stopId,omitempty"`
}

type stopETA struct {
	StopID    string  `json:"stopId"`
	StopName  string  `json:"stopName"`
	StopOrder int     `json:"stopOrder"`
	ETA       int     `json:"eta"`
	Distance  float64 `json:"distance"`
}

type etaUpdateOut struct {
	VehicleID string    `json:"vehicleId"`
	TripID    string    `json:"tripId"`
	ETAs      []stopETA `json:"etas"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriptionOut struct {
	Group string `json:"group"`
}

type errorOut struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
