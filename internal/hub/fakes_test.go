package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transit-hub/internal/db"
	"transit-hub/internal/logging"
	"transit-hub/internal/session"
	"transit-hub/internal/transit"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type boarding struct {
	TripID, StopID string
	Boarded        int
}

// fakeCatalog is an in-memory Catalog with the same conditional semantics as
// the Postgres one.
type fakeCatalog struct {
	mu sync.Mutex

	drivers   map[string]*transit.Driver  // by user id
	vehicles  map[string]*transit.Vehicle // by driver id
	trips     map[string]*transit.Trip
	stops     map[string][]transit.RouteStop // by route id
	arrivals  map[string]map[string]bool     // trip id -> stop ids reached
	fixes     []transit.LocationFix
	statuses  map[string]string // driver id -> status
	totals    map[string]int    // driver id -> total trips
	boardings []boarding

	insertErr error
	routeErr  error
	etaErr    error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		drivers:  make(map[string]*transit.Driver),
		vehicles: make(map[string]*transit.Vehicle),
		trips:    make(map[string]*transit.Trip),
		stops:    make(map[string][]transit.RouteStop),
		arrivals: make(map[string]map[string]bool),
		statuses: make(map[string]string),
		totals:   make(map[string]int),
	}
}

func (f *fakeCatalog) addDriver(userID, driverID string) {
	f.drivers[userID] = &transit.Driver{ID: driverID, UserID: userID, Status: transit.DriverInactive}
}

func (f *fakeCatalog) addVehicle(driverID, vehicleID, registration string) {
	f.vehicles[driverID] = &transit.Vehicle{ID: vehicleID, Registration: registration, DriverID: driverID}
}

func (f *fakeCatalog) addTrip(t transit.Trip) {
	f.trips[t.ID] = &t
}

func (f *fakeCatalog) addStops(routeID string, stops ...transit.RouteStop) {
	for i := range stops {
		stops[i].RouteID = routeID
	}
	f.stops[routeID] = append(f.stops[routeID], stops...)
}

func (f *fakeCatalog) arrive(tripID, stopID string) {
	if f.arrivals[tripID] == nil {
		f.arrivals[tripID] = make(map[string]bool)
	}
	f.arrivals[tripID][stopID] = true
}

func (f *fakeCatalog) trip(id string) transit.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.trips[id]
}

func (f *fakeCatalog) fixCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fixes)
}

func (f *fakeCatalog) DriverByUserID(_ context.Context, userID string) (*transit.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeCatalog) VehicleForDriver(_ context.Context, driverID string) (*transit.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[driverID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeCatalog) CurrentTripForVehicle(_ context.Context, vehicleID string) (*transit.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scheduled []*transit.Trip
	for _, t := range f.trips {
		if t.VehicleID != vehicleID {
			continue
		}
		if t.Status == transit.TripActive {
			cp := *t
			return &cp, nil
		}
		if t.Status == transit.TripScheduled {
			scheduled = append(scheduled, t)
		}
	}
	if len(scheduled) == 0 {
		return nil, db.ErrNotFound
	}
	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].ID < scheduled[j].ID })
	cp := *scheduled[0]
	return &cp, nil
}

func (f *fakeCatalog) SetDriverStatus(_ context.Context, driverID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[driverID] = status
	return nil
}

func (f *fakeCatalog) status(driverID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[driverID]
}

func (f *fakeCatalog) IncrementDriverTrips(_ context.Context, driverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[driverID]++
	return nil
}

func (f *fakeCatalog) InsertLocation(_ context.Context, fix transit.LocationFix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.fixes = append(f.fixes, fix)
	return nil
}

func (f *fakeCatalog) TripRouteID(_ context.Context, tripID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routeErr != nil {
		return "", f.routeErr
	}
	t, ok := f.trips[tripID]
	if !ok {
		return "", db.ErrNotFound
	}
	return t.RouteID, nil
}

func (f *fakeCatalog) StartTrip(_ context.Context, tripID, driverID string, at time.Time) (*transit.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok || t.DriverID != driverID || t.Status != transit.TripScheduled {
		return nil, db.ErrNotFound
	}
	t.Status = transit.TripActive
	t.ActualStart = &at
	cp := *t
	return &cp, nil
}

func (f *fakeCatalog) EndTrip(_ context.Context, tripID, driverID string, passengers int, distanceKm float64, at time.Time) (*transit.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok || t.DriverID != driverID || t.Status != transit.TripActive {
		return nil, db.ErrNotFound
	}
	t.Status = transit.TripCompleted
	t.ActualEnd = &at
	t.PassengerCount = passengers
	t.DistanceCovered = distanceKm
	cp := *t
	return &cp, nil
}

func (f *fakeCatalog) TripProgress(_ context.Context, tripID string) (transit.TripProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.etaErr != nil {
		return transit.TripProgress{}, f.etaErr
	}
	t, ok := f.trips[tripID]
	if !ok {
		return transit.TripProgress{}, db.ErrNotFound
	}
	p := transit.TripProgress{RouteID: t.RouteID}
	for _, s := range f.stops[t.RouteID] {
		if f.arrivals[tripID][s.StopID] && s.StopOrder > p.LastVisitedOrder {
			p.LastVisitedOrder = s.StopOrder
		}
	}
	return p, nil
}

func (f *fakeCatalog) RouteStopsAfter(_ context.Context, routeID string, afterOrder, limit int) ([]transit.RouteStop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transit.RouteStop
	for _, s := range f.stops[routeID] {
		if s.StopOrder > afterOrder {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StopOrder < out[j].StopOrder })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) UpdatePassengerCount(_ context.Context, tripID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok {
		return errors.New("trip vanished")
	}
	t.PassengerCount = count
	return nil
}

func (f *fakeCatalog) RecordStopBoarding(_ context.Context, tripID, stopID string, boarded int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.boardings {
		if b.TripID == tripID && b.StopID == stopID {
			f.boardings[i].Boarded = boarded
			return nil
		}
	}
	f.boardings = append(f.boardings, boarding{TripID: tripID, StopID: stopID, Boarded: boarded})
	if f.arrivals[tripID] == nil {
		f.arrivals[tripID] = make(map[string]bool)
	}
	f.arrivals[tripID][stopID] = true
	return nil
}

// recordingSender captures every frame sent to a connection.
type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) events(name string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []transit.CachedLocation
	err  error
}

func (b *fakeBroadcaster) PublishLocation(loc transit.CachedLocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, loc)
	return nil
}

type fixture struct {
	hub      *Hub
	catalog  *fakeCatalog
	sessions *session.MemoryStore
	bcast    *fakeBroadcaster
}

// newFixture seeds driver D (user u-driver) on vehicle V with trip T on
// route R, which has four stops in order 1..4.
func newFixture(t *testing.T, tripStatus string, opts ...func(*Options)) *fixture {
	t.Helper()
	cat := newFakeCatalog()
	cat.addDriver("u-driver", "D")
	cat.addVehicle("D", "V", "UK07-1234")
	cat.addTrip(transit.Trip{ID: "T", VehicleID: "V", DriverID: "D", RouteID: "R", Status: tripStatus})
	cat.addStops("R",
		transit.RouteStop{StopID: "S1", StopName: "Clock Tower", Lat: 30.3245, Lon: 78.0419, StopOrder: 1},
		transit.RouteStop{StopID: "S2", StopName: "Rajpur Road", Lat: 30.3350, Lon: 78.0510, StopOrder: 2},
		transit.RouteStop{StopID: "S3", StopName: "Jakhan", Lat: 30.3600, Lon: 78.0700, StopOrder: 3},
		transit.RouteStop{StopID: "S4", StopName: "Mussoorie Diversion", Lat: 30.3900, Lon: 78.0900, StopOrder: 4},
	)

	o := Options{Now: func() time.Time { return fixedNow }}
	for _, fn := range opts {
		fn(&o)
	}
	store := session.NewMemoryStore(session.DefaultTTLs())
	bc := &fakeBroadcaster{}
	h := New(cat, store, bc, logging.Discard(), nil, o)
	return &fixture{hub: h, catalog: cat, sessions: store, bcast: bc}
}

func (f *fixture) connect(t *testing.T, id, userID string, role transit.Role) (*Conn, *recordingSender) {
	t.Helper()
	s := &recordingSender{}
	c := NewConn(id, userID, role, s)
	f.hub.Connect(context.Background(), c)
	return c, s
}

func (f *fixture) send(c *Conn, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	f.hub.Dispatch(context.Background(), c, event, b)
}

func decodeData[T any](t *testing.T, m Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(m.Data, &v))
	return v
}

func lastError(t *testing.T, s *recordingSender) errorOut {
	t.Helper()
	errs := s.events(EventError)
	require.NotEmpty(t, errs, "expected an error event")
	return decodeData[errorOut](t, errs[len(errs)-1])
}
