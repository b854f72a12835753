package sim

import (
	"time"

	"transit-hub/internal/geo"
	"transit-hub/internal/transit"
)

// routePath is a route's stop polyline with a keyframe schedule: the time
// offset from departure at which each stop is reached.
type routePath struct {
	points []geo.Point
	cum    []float64
	times  []time.Duration
}

// newRoutePath builds the schedule from each stop's scheduled travel time
// from the previous stop, falling back to the straight-line leg at speedKmh.
func newRoutePath(stops []transit.RouteStop, speedKmh float64) routePath {
	p := routePath{
		points: make([]geo.Point, len(stops)),
		times:  make([]time.Duration, len(stops)),
	}
	for i, s := range stops {
		p.points[i] = geo.Point{Lat: s.Lat, Lon: s.Lon}
	}
	p.cum = geo.CumulativeKm(p.points)
	for i := 1; i < len(stops); i++ {
		leg := time.Duration(stops[i].TravelMinutesFromPrev) * time.Minute
		if leg <= 0 && speedKmh > 0 {
			legKm := p.cum[i] - p.cum[i-1]
			leg = time.Duration(legKm / speedKmh * float64(time.Hour))
		}
		p.times[i] = p.times[i-1] + leg
	}
	return p
}

func (p routePath) total() float64 {
	if len(p.cum) == 0 {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

// distanceAt interpolates the distance covered at elapsed, clamped to the
// first and last keyframes.
func (p routePath) distanceAt(elapsed time.Duration) float64 {
	n := len(p.times)
	if n == 0 {
		return 0
	}
	if elapsed <= p.times[0] {
		return p.cum[0]
	}
	if elapsed >= p.times[n-1] {
		return p.cum[n-1]
	}
	// find segment i s.t. times[i] <= elapsed < times[i+1]
	i := 0
	for i+1 < n && elapsed >= p.times[i+1] {
		i++
	}
	t0, t1 := p.times[i], p.times[i+1]
	d0, d1 := p.cum[i], p.cum[i+1]
	if t1 <= t0 {
		return d1
	}
	frac := float64(elapsed-t0) / float64(t1-t0)
	return d0 + (d1-d0)*frac
}
