package geom

import (
	"testing"

	"github.com/matryer/is"
)

func TestParsePoint(t *testing.T) {
	is := is.New(t)

	pts := ParsePoints("POINT (18.0 59.3)")
	is.Equal(len(pts), 1)
	is.Equal(pts[0], Point{Lon: 18.0, Lat: 59.3})
}

func TestParsePointZDropsThirdDimension(t *testing.T) {
	is := is.New(t)

	pts := ParsePoints("POINT Z (18.0 59.3 10.0)")
	is.Equal(len(pts), 1)
	is.Equal(pts[0], Point{Lon: 18.0, Lat: 59.3})
}

func TestParseLineString(t *testing.T) {
	is := is.New(t)

	pts := ParsePoints("LINESTRING (13.0958767 55.9722252, 13.1 55.98)")
	is.Equal(len(pts), 2)
	is.Equal(pts[1], Point{Lon: 13.1, Lat: 55.98})
}

func TestParseMalformedInput(t *testing.T) {
	is := is.New(t)

	is.Equal(len(ParsePoints("")), 0)
	is.Equal(len(ParsePoints("not wkt")), 0)
	is.Equal(len(ParsePoints("   ")), 0)
}

func TestDistanceToSelfIsZero(t *testing.T) {
	is := is.New(t)

	p := Point{Lon: 18.0, Lat: 59.3}
	is.Equal(DistanceKm(p, p), 0.0)
}

func TestDistanceIsSymmetric(t *testing.T) {
	is := is.New(t)

	a := Point{Lon: 17.313529, Lat: 62.470909}
	b := Point{Lon: 13.0958767, Lat: 55.9722252}

	is.Equal(DistanceKm(a, b), DistanceKm(b, a))
}

func TestMinDistance(t *testing.T) {
	is := is.New(t)

	ref := Point{Lon: 18.0, Lat: 59.3}

	d, ok := MinDistanceKm(ref, "LINESTRING (18.0 59.3, 19.0 60.0)")
	is.True(ok)
	is.Equal(d, 0.0) // nearest point of the line is the reference itself

	_, ok = MinDistanceKm(ref, "")
	is.True(!ok)

	_, ok = MinDistanceKm(ref, "garbage")
	is.True(!ok)
}
