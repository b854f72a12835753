package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-hub/internal/transit"
)

func TestStartTrip(t *testing.T) {
	f := newFixture(t, transit.TripScheduled)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	obs, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)
	f.send(obs, EventSubscribeRoute, map[string]any{"routeId": "R"})

	f.send(drv, EventStartTrip, nil)

	assert.Empty(t, ds.events(EventError))
	assert.Equal(t, transit.TripActive, f.catalog.trip("T").Status)

	started := ds.events(EventTripStarted)
	require.Len(t, started, 1)
	assert.Equal(t, tripStartedOut{TripID: "T", RouteID: "R", Status: transit.TripActive, ActualStartTime: fixedNow},
		decodeData[tripStartedOut](t, started[0]))

	updates := os.events(EventTripStatusUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, tripStatusOut{TripID: "T", VehicleID: "V", RouteID: "R", Status: transit.TripActive, Timestamp: fixedNow},
		decodeData[tripStatusOut](t, updates[0]))

	cached, err := f.sessions.ActiveTrip(context.Background(), "T")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, transit.TripActive, cached.Status)
}

func TestStartTripRejected(t *testing.T) {
	tests := []struct {
		name   string
		status string
		owner  string
	}{
		{"already active", transit.TripActive, "D"},
		{"other driver", transit.TripScheduled, "D-other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status)
			f.catalog.trips["T"].DriverID = tt.owner
			drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
			_, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)

			f.send(drv, EventStartTrip, nil)

			assert.Equal(t, errorOut{Message: ErrStartFailed.Error(), Code: "StartFailed"}, lastError(t, ds))
			assert.Equal(t, tt.status, f.catalog.trip("T").Status)
			assert.Empty(t, os.events(EventTripStatusUpdate))
		})
	}
}

func TestStartTripTwice(t *testing.T) {
	f := newFixture(t, transit.TripScheduled)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventStartTrip, nil)
	f.send(drv, EventStartTrip, nil)

	assert.Len(t, ds.events(EventTripStarted), 1)
	assert.Equal(t, "StartFailed", lastError(t, ds).Code)
	assert.Equal(t, transit.TripActive, f.catalog.trip("T").Status)
}

func TestStartTripWithoutTrip(t *testing.T) {
	f := newFixture(t, transit.TripCompleted)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventStartTrip, nil)

	assert.Equal(t, "NoActiveTrip", lastError(t, ds).Code)
}

func TestEndTrip(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)
	obs, os := f.connect(t, "o1", "u-obs", transit.RoleObserver)
	f.send(obs, EventSubscribeRoute, map[string]any{"routeId": "R"})

	f.send(drv, EventEndTrip, map[string]any{"passengerCount": 12, "distanceCovered": 8.4})

	assert.Empty(t, ds.events(EventError))
	trip := f.catalog.trip("T")
	assert.Equal(t, transit.TripCompleted, trip.Status)
	assert.Equal(t, 12, trip.PassengerCount)
	assert.Equal(t, 8.4, trip.DistanceCovered)
	assert.Equal(t, 1, f.catalog.totals["D"])

	ended := ds.events(EventTripEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, tripEndedOut{TripID: "T", Status: transit.TripCompleted, PassengerCount: 12, DistanceCovered: 8.4, ActualEndTime: fixedNow},
		decodeData[tripEndedOut](t, ended[0]))

	updates := os.events(EventTripStatusUpdate)
	require.Len(t, updates, 1)
	got := decodeData[tripStatusOut](t, updates[0])
	assert.Equal(t, transit.TripCompleted, got.Status)
	assert.Equal(t, "R", got.RouteID)

	sess, err := f.sessions.DriverSession(context.Background(), "D")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestEndTripClearsBinding(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventEndTrip, map[string]any{})
	require.Len(t, ds.events(EventTripEnded), 1)

	assert.False(t, f.hub.Rooms().IsMember(drv, VehicleGroup("V")))
	b, ok := f.hub.Binding("c1")
	require.True(t, ok)
	assert.Equal(t, DriverBinding{DriverID: "D"}, b)

	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})
	assert.Equal(t, "NoVehicleAssigned", lastError(t, ds).Code)
	assert.Zero(t, f.catalog.fixCount())

	f.send(drv, EventEndTrip, nil)
	assert.Equal(t, "NoActiveTrip", lastError(t, ds).Code)
	assert.Equal(t, 1, f.catalog.totals["D"])
}

func TestEndTripDefaultsToZero(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventEndTrip, nil)

	require.Len(t, ds.events(EventTripEnded), 1)
	trip := f.catalog.trip("T")
	assert.Zero(t, trip.PassengerCount)
	assert.Zero(t, trip.DistanceCovered)
}

func TestEndTripRejected(t *testing.T) {
	f := newFixture(t, transit.TripScheduled)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventEndTrip, map[string]any{"passengerCount": 3})

	assert.Equal(t, errorOut{Message: ErrEndFailed.Error(), Code: "EndFailed"}, lastError(t, ds))
	assert.Equal(t, transit.TripScheduled, f.catalog.trip("T").Status)
	assert.Zero(t, f.catalog.totals["D"])
	sess, err := f.sessions.DriverSession(context.Background(), "D")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestEndTripInvalidPayload(t *testing.T) {
	f := newFixture(t, transit.TripActive)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventEndTrip, map[string]any{"passengerCount": -1})

	assert.Equal(t, "InvalidPayload", lastError(t, ds).Code)
	assert.Equal(t, transit.TripActive, f.catalog.trip("T").Status)
}

func TestTripLifecycle(t *testing.T) {
	f := newFixture(t, transit.TripScheduled)
	drv, ds := f.connect(t, "c1", "u-driver", transit.RoleDriver)

	f.send(drv, EventStartTrip, nil)
	f.send(drv, EventLocationUpdate, map[string]any{"latitude": 30.3, "longitude": 78.03})
	f.send(drv, EventEndTrip, map[string]any{"passengerCount": 7, "distanceCovered": 3.2})

	assert.Empty(t, ds.events(EventError))
	assert.Equal(t, transit.TripCompleted, f.catalog.trip("T").Status)
	assert.Equal(t, 1, f.catalog.fixCount())
}
