package geo

import "math"

// CumulativeKm returns, for each point, the haversine distance travelled from
// the first point along the polyline.
func CumulativeKm(pts []Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + DistanceKm(pts[i-1], pts[i])
	}
	return cum
}

// Along returns the position dist km along the polyline and the bearing of
// the segment it lies on. dist is clamped to the polyline.
func Along(pts []Point, cum []float64, dist float64) (Point, float64) {
	n := len(pts)
	if n == 0 {
		return Point{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return pts[0], 0
	}
	if dist <= 0 {
		return pts[0], BearingDeg(pts[0], pts[1])
	}
	if dist >= cum[n-1] {
		return pts[n-1], BearingDeg(pts[n-2], pts[n-1])
	}
	i := 1
	for i < n-1 && cum[i] < dist {
		i++
	}
	p0, p1 := pts[i-1], pts[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, BearingDeg(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return Point{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}, BearingDeg(p0, p1)
}

// BearingDeg is the initial bearing from a to b in degrees [0, 360).
func BearingDeg(a, b Point) float64 {
	y := math.Sin((b.Lon-a.Lon)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lon-a.Lon)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
