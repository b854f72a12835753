package session

import (
	"context"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"transit-hub/internal/transit"
)

const memoryCacheSize = 10000

// MemoryStore keeps the cache inside the process. It is only suitable for a
// single hub instance.
type MemoryStore struct {
	sessions    *expirable.LRU[string, transit.DriverSession]
	locations   *expirable.LRU[string, transit.CachedLocation]
	etas        *expirable.LRU[string, transit.ETAEntry]
	activeTrips *expirable.LRU[string, transit.Trip]
}

func NewMemoryStore(ttl TTLs) *MemoryStore {
	return &MemoryStore{
		sessions:    expirable.NewLRU[string, transit.DriverSession](memoryCacheSize, nil, ttl.Session),
		locations:   expirable.NewLRU[string, transit.CachedLocation](memoryCacheSize, nil, ttl.Location),
		etas:        expirable.NewLRU[string, transit.ETAEntry](memoryCacheSize, nil, ttl.ETA),
		activeTrips: expirable.NewLRU[string, transit.Trip](memoryCacheSize, nil, ttl.ActiveTrip),
	}
}

func (m *MemoryStore) SetDriverSession(_ context.Context, s transit.DriverSession) error {
	m.sessions.Add(s.DriverID, s)
	return nil
}

func (m *MemoryStore) DriverSession(_ context.Context, driverID string) (*transit.DriverSession, error) {
	s, ok := m.sessions.Get(driverID)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) DeleteDriverSession(_ context.Context, driverID string) error {
	m.sessions.Remove(driverID)
	return nil
}

func (m *MemoryStore) SetLocation(_ context.Context, loc transit.CachedLocation) error {
	m.locations.Add(loc.VehicleID, loc)
	return nil
}

func (m *MemoryStore) Location(_ context.Context, vehicleID string) (*transit.CachedLocation, error) {
	loc, ok := m.locations.Get(vehicleID)
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MemoryStore) SetETA(_ context.Context, e transit.ETAEntry) error {
	m.etas.Add(etaKey(e.TripID, e.StopID, e.VehicleID), e)
	return nil
}

func (m *MemoryStore) ETA(_ context.Context, tripID, stopID, vehicleID string) (*transit.ETAEntry, error) {
	e, ok := m.etas.Get(etaKey(tripID, stopID, vehicleID))
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) SetActiveTrip(_ context.Context, t transit.Trip) error {
	m.activeTrips.Add(t.ID, t)
	return nil
}

func (m *MemoryStore) ActiveTrip(_ context.Context, tripID string) (*transit.Trip, error) {
	t, ok := m.activeTrips.Get(tripID)
	if !ok {
		return nil, nil
	}
	return &t, nil
}
