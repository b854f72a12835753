package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-hub/internal/transit"
)

func TestLocationUpdateRecordsCachesAndPublishes(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	ds.reset()

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.30, "longitude": 78.03, "speed": 22.5})

	assert.Empty(t, ds.events(EventError))
	require.Equal(t, 1, f.catalog.fixCount())
	fix := f.catalog.fixes[0]
	assert.Equal(t, "V", fix.VehicleID)
	assert.Equal(t, "T", fix.TripID)
	assert.Equal(t, 30.30, fix.Lat)
	assert.Equal(t, 78.03, fix.Lon)
	require.NotNil(t, fix.Speed)
	assert.Equal(t, 22.5, *fix.Speed)
	assert.Nil(t, fix.Heading)
	assert.Nil(t, fix.Accuracy)
	assert.Equal(t, fixedNow, fix.Timestamp)

	cached, err := f.sessions.Location(context.Background(), "V")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 30.30, cached.Latitude)
	assert.Equal(t, 78.03, cached.Longitude)
	assert.Equal(t, "R", cached.RouteID)

	require.Len(t, f.bcast.sent, 1)
	assert.Equal(t, *cached, f.bcast.sent[0])

	// The driver is in vehicle:V but never hears its own fix.
	assert.Empty(t, ds.events(EventLocationUpdate))
}

func TestLocationUpdateClientTimestamp(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, _ := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.0, "timestamp": "2025-03-14T09:00:00Z"})
	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.0, "timestamp": 1741942800000})

	require.Equal(t, 2, f.catalog.fixCount())
	want := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, want, f.catalog.fixes[0].Timestamp)
	assert.Equal(t, want, f.catalog.fixes[1].Timestamp)
}

func TestLocationUpdateOverwritesCache(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, _ := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.30, "longitude": 78.03})
	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.31, "longitude": 78.04})

	assert.Equal(t, 2, f.catalog.fixCount())
	cached, err := f.sessions.Location(context.Background(), "V")
	require.NoError(t, err)
	assert.Equal(t, 30.31, cached.Latitude)
	assert.Equal(t, 78.04, cached.Longitude)
}

func TestLocationUpdateRejectsInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"missing latitude", map[string]any{"longitude": 78.03}},
		{"missing longitude", map[string]any{"latitude": 30.3}},
		{"zero latitude", map[string]any{"latitude": 0, "longitude": 78.03}},
		{"latitude out of range", map[string]any{"latitude": 91.0, "longitude": 78.03}},
		{"longitude out of range", map[string]any{"latitude": 30.3, "longitude": -180.5}},
		{"latitude not a number", map[string]any{"latitude": "north", "longitude": 78.03}},
		{"empty", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, transit.TripActive)
			drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

			f.send(drv, EventLocationUpdate, tt.data)

			assert.Equal(t, "InvalidLocation", lastError(t, ds).Code)
			assert.Zero(t, f.catalog.fixCount())
			assert.Empty(t, f.bcast.sent)
			cached, err := f.sessions.Location(context.Background(), "V")
			require.NoError(t, err)
			assert.Nil(t, cached)
		})
	}
}

func TestLocationUpdateInvalidBeforeBindingChecks(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	c, s := f.connect(t, "c1", "u-stranger", transit.RoleDriver)
	s.reset()

	f.send(c, EventLocationUpdate, map[string]any{"longitude": 78.03})
	assert.Equal(t, "InvalidLocation", lastError(t, s).Code)

	f.send(c, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})
	assert.Equal(t, "ProfileNotFound", lastError(t, s).Code)
}

func TestLocationUpdateStoreFailure(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	f.catalog.insertErr = errors.New("connection refused")

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})

	got := lastError(t, ds)
	assert.Equal(t, errorOut{Message: "operation failed", Code: "OperationFailed"}, got)
	assert.Empty(t, f.bcast.sent)
	cached, err := f.sessions.Location(context.Background(), "V")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestLocationUpdateSurvivesBroadcastFailure(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	f.bcast.err = errors.New("nats: connection closed")
	_, as := f.connect(t, "a1", "u-adm", transit.RoleAdmin)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})

	assert.Empty(t, ds.events(EventError))
	assert.Equal(t, 1, f.catalog.fixCount())
	assert.Len(t, as.events(EventVehicleLocationUpdate), 1)
}

func TestLocationUpdateRouteLookupFailureSkipsRouteFanout(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	obs, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)
	f.send(obs, EventSubscribeRoute, map[string]any{"routeId": "R"})
	f.send(obs, EventSubscribeVehicle, map[string]any{"vehicleId": "V"})
	f.catalog.routeErr = errors.New("timeout")

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})

	assert.Empty(t, ds.events(EventError))
	assert.Empty(t, os.events(EventRouteVehicleUpdate))
	assert.Len(t, os.events(EventLocationUpdate), 1)
}

// An observer subscribed to route:R hears a fix from the vehicle on R once;
// unrelated connections hear nothing of it.
func TestLocationFanOut(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, _ := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	routeObs, rs := f.connect(t, "o1", "u-route", transit.RoleObserver)
	f.send(routeObs, EventSubscribeRoute, map[string]any{"routeId": "R"})
	vehObs, vs := f.connect(t, "o2", "u-veh", transit.RolePassenger)
	f.send(vehObs, EventSubscribeVehicle, map[string]any{"vehicleId": "V"})
	other, xs := f.connect(t, "o3", "u-other", transit.RoleObserver)
	f.send(other, EventSubscribeRoute, map[string]any{"routeId": "R9"})
	_, as := f.connect(t, "a1", "u-adm", transit.RoleAdmin)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.30, "longitude": 78.03})

	routeUpdates := rs.events(EventRouteVehicleUpdate)
	require.Len(t, routeUpdates, 1)
	got := decodeData[transit.CachedLocation](t, routeUpdates[0])
	assert.Equal(t, "R", got.RouteID)
	assert.Equal(t, "V", got.VehicleID)
	assert.Empty(t, rs.events(EventLocationUpdate))

	assert.Len(t, vs.events(EventLocationUpdate), 1)
	assert.Empty(t, vs.events(EventRouteVehicleUpdate))

	assert.Empty(t, xs.events(EventRouteVehicleUpdate))
	assert.Empty(t, xs.events(EventLocationUpdate))

	assert.Len(t, as.events(EventVehicleLocationUpdate), 1)
	assert.Empty(t, as.events(EventRouteVehicleUpdate))
}

func TestLocationUpdateWithoutTripSkipsRouteAndETA(t *testing.T) {
	f := newFixture(t, transit.TripCompleted)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	_, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})

	assert.Empty(t, ds.events(EventError))
	require.Equal(t, 1, f.catalog.fixCount())
	assert.Empty(t, f.catalog.fixes[0].TripID)
	assert.Empty(t, os.events(EventETAUpdate))
}

func TestLocationUpdateRateLimit(t *testing.T) {
	f := newFixture(t, transit.TripActive, func(o *Options) { o.LocationRate = 1 })
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})
	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})

	assert.Equal(t, 1, f.catalog.fixCount())
	assert.Equal(t, "RateLimited", lastError(t, ds).Code)
}

func TestRelayFansOutLocally(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	_, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	obs, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)
	f.send(obs, EventSubscribeRoute, map[string]any{"routeId": "R"})
	_, as := f.connect(t, "a1", "u-adm", transit.RoleAdmin)

	f.hub.Relay(transit.CachedLocation{VehicleID: "V", RouteID: "R", Latitude: 30.3, Longitude: 78.03, Timestamp: fixedNow})

	// A fix from another instance reaches every local member, the driver included.
	assert.Len(t, ds.events(EventLocationUpdate), 1)
	assert.Len(t, os.events(EventRouteVehicleUpdate), 1)
	assert.Len(t, as.events(EventVehicleLocationUpdate), 1)
	assert.Zero(t, f.catalog.fixCount())
	assert.Empty(t, f.bcast.sent)
}
