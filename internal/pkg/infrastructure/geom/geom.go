// Package geom extracts coordinates from WGS84 well known text and
// computes great circle distances.
package geom

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lon float64
	Lat float64
}

const earthRadiusKm = 6371.0

// MaxDistancePoints caps how many geometry points are considered when
// computing distances against legitimately huge polylines.
const MaxDistancePoints = 200

var wktNumberRegexp = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// ParsePoints extracts lon/lat points from common WKT shapes (POINT,
// LINESTRING, POLYGON, with or without a Z dimension). It is a permissive
// numeric scan rather than a full WKT grammar, and returns an empty slice
// on malformed or empty input.
func ParsePoints(wkt string) []Point {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return nil
	}

	header := strings.ToUpper(strings.SplitN(s, "(", 2)[0])
	step := 2
	if strings.Contains(header, " Z") || strings.HasSuffix(strings.TrimSpace(header), "Z") {
		step = 3
	}

	nums := wktNumberRegexp.FindAllString(s, -1)
	if len(nums) < 2 {
		return nil
	}

	floats := make([]float64, 0, len(nums))
	for _, n := range nums {
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			continue
		}
		floats = append(floats, f)
	}

	pts := make([]Point, 0, len(floats)/step)
	for i := 0; i+1 < len(floats); i += step {
		pts = append(pts, Point{Lon: floats[i], Lat: floats[i+1]})
	}

	return pts
}

// DistanceKm returns the great circle distance between two points in
// kilometers, using the haversine formula.
func DistanceKm(a, b Point) float64 {
	p1 := a.Lat * math.Pi / 180
	p2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dlon/2)*math.Sin(dlon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// MinDistanceKm returns the minimum distance from ref to any point in the
// given WKT geometry. The second return value is false if the geometry is
// absent or unparsable.
func MinDistanceKm(ref Point, wkt string) (float64, bool) {
	pts := ParsePoints(wkt)
	if len(pts) == 0 {
		return 0, false
	}

	if len(pts) > MaxDistancePoints {
		pts = pts[:MaxDistancePoints]
	}

	best := math.Inf(1)
	for _, p := range pts {
		if d := DistanceKm(ref, p); d < best {
			best = d
		}
	}

	return best, true
}
