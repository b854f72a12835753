package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"transit-hub/internal/transit"
)

// JetStream KeyValue buckets, one per key family so each gets its own TTL.
const (
	BucketSessions    = "driver_sessions"
	BucketLocations   = "vehicle_locations"
	BucketETAs        = "trip_etas"
	BucketActiveTrips = "active_trips"
)

// KVStore keeps the cache in NATS JetStream KeyValue buckets shared by all
// hub instances.
type KVStore struct {
	sessions    nats.KeyValue
	locations   nats.KeyValue
	etas        nats.KeyValue
	activeTrips nats.KeyValue
}

// NewKVStore binds to (creating if missing) the four buckets.
func NewKVStore(js nats.JetStreamContext, ttl TTLs) (*KVStore, error) {
	s := &KVStore{}
	var err error
	if s.sessions, err = bucket(js, BucketSessions, ttl.Session); err != nil {
		return nil, err
	}
	if s.locations, err = bucket(js, BucketLocations, ttl.Location); err != nil {
		return nil, err
	}
	if s.etas, err = bucket(js, BucketETAs, ttl.ETA); err != nil {
		return nil, err
	}
	if s.activeTrips, err = bucket(js, BucketActiveTrips, ttl.ActiveTrip); err != nil {
		return nil, err
	}
	return s, nil
}

func bucket(js nats.JetStreamContext, name string, ttl time.Duration) (nats.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("bind bucket %s: %w", name, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name, TTL: ttl, History: 1})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return kv, nil
}

func put(kv nats.KeyValue, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := kv.Put(key, b); err != nil {
		return fmt.Errorf("kv put %s/%s: %w", kv.Bucket(), key, err)
	}
	return nil
}

// get decodes key into dst; found is false when the key is absent or expired.
func get(kv nats.KeyValue, key string, dst any) (bool, error) {
	entry, err := kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("kv get %s/%s: %w", kv.Bucket(), key, err)
	}
	if err := json.Unmarshal(entry.Value(), dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", kv.Bucket(), key, err)
	}
	return true, nil
}

func (s *KVStore) SetDriverSession(_ context.Context, ds transit.DriverSession) error {
	return put(s.sessions, keyToken(ds.DriverID), ds)
}

func (s *KVStore) DriverSession(_ context.Context, driverID string) (*transit.DriverSession, error) {
	var ds transit.DriverSession
	ok, err := get(s.sessions, keyToken(driverID), &ds)
	if !ok {
		return nil, err
	}
	return &ds, nil
}

func (s *KVStore) DeleteDriverSession(_ context.Context, driverID string) error {
	if err := s.sessions.Delete(keyToken(driverID)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("kv delete session %s: %w", driverID, err)
	}
	return nil
}

func (s *KVStore) SetLocation(_ context.Context, loc transit.CachedLocation) error {
	return put(s.locations, keyToken(loc.VehicleID), loc)
}

func (s *KVStore) Location(_ context.Context, vehicleID string) (*transit.CachedLocation, error) {
	var loc transit.CachedLocation
	ok, err := get(s.locations, keyToken(vehicleID), &loc)
	if !ok {
		return nil, err
	}
	return &loc, nil
}

func (s *KVStore) SetETA(_ context.Context, e transit.ETAEntry) error {
	return put(s.etas, etaKey(e.TripID, e.StopID, e.VehicleID), e)
}

func (s *KVStore) ETA(_ context.Context, tripID, stopID, vehicleID string) (*transit.ETAEntry, error) {
	var e transit.ETAEntry
	ok, err := get(s.etas, etaKey(tripID, stopID, vehicleID), &e)
	if !ok {
		return nil, err
	}
	return &e, nil
}

func (s *KVStore) SetActiveTrip(_ context.Context, t transit.Trip) error {
	return put(s.activeTrips, keyToken(t.ID), t)
}

func (s *KVStore) ActiveTrip(_ context.Context, tripID string) (*transit.Trip, error) {
	var t transit.Trip
	ok, err := get(s.activeTrips, keyToken(tripID), &t)
	if !ok {
		return nil, err
	}
	return &t, nil
}
