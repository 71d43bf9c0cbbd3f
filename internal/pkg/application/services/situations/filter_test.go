package situations

import (
	"testing"

	"github.com/diwise/trafikinfo-se/internal/pkg/infrastructure/geom"
	"github.com/matryer/is"
)

func coordinateModeSvc(radiusKm float64) *situationSvc {
	svc := &situationSvc{}
	svc.ApplyOptions(Options{
		FilterMode: FilterModeCoordinate,
		Latitude:   59.3,
		Longitude:  18.0,
		RadiusKm:   radiusKm,
	})

	return svc
}

func countyModeSvc(counties ...string) *situationSvc {
	svc := &situationSvc{}
	svc.ApplyOptions(Options{
		FilterMode: FilterModeCounty,
		Counties:   counties,
	})

	return svc
}

func boolPtr(b bool) *bool {
	return &b
}

func TestRadiusBoundaryIsInclusive(t *testing.T) {
	is := is.New(t)

	center := geom.Point{Lon: 18.0, Lat: 59.3}
	boundary := geom.DistanceKm(center, geom.Point{Lon: 18.0, Lat: 59.35})

	e := Event{GeometryWGS84: "POINT (18.0 59.35)"}

	is.True(coordinateModeSvc(boundary).includeEvent(e))
	is.True(!coordinateModeSvc(boundary * 0.99).includeEvent(e))
}

func TestCoordinateModeNoGeometryRequiresImportance(t *testing.T) {
	is := is.New(t)

	svc := coordinateModeSvc(5)

	is.True(!svc.includeEvent(Event{Header: "no geometry"}))
	is.True(svc.includeEvent(Event{SafetyRelatedMessage: boolPtr(true)}))
	is.True(svc.includeEvent(Event{MessageType: importantMessageType}))
}

func TestCoordinateModeUnparsableGeometryIsExcluded(t *testing.T) {
	is := is.New(t)

	is.True(!coordinateModeSvc(5000).includeEvent(Event{GeometryWGS84: "POINT ()"}))
}

func TestCountyModeMembership(t *testing.T) {
	is := is.New(t)

	svc := countyModeSvc("14", "17")

	is.True(svc.includeEvent(Event{CountyNo: []int{14}}))
	is.True(svc.includeEvent(Event{CountyNo: []int{3, 17}}))
	is.True(!svc.includeEvent(Event{CountyNo: []int{3}}))
}

func TestCountyModeAllSentinel(t *testing.T) {
	is := is.New(t)

	is.True(countyModeSvc(CountyAll).includeEvent(Event{CountyNo: []int{3}}))
	is.True(countyModeSvc(CountyAll).includeEvent(Event{}))
}

func TestCountyModeNoCountiesRequiresImportance(t *testing.T) {
	is := is.New(t)

	svc := countyModeSvc("14")

	is.True(!svc.includeEvent(Event{}))
	is.True(svc.includeEvent(Event{SafetyRelatedMessage: boolPtr(true)}))
}

func TestCountyModeEmptySetIncludesNothing(t *testing.T) {
	is := is.New(t)

	svc := countyModeSvc("14")
	svc.counties = map[string]struct{}{}

	is.True(!svc.includeEvent(Event{CountyNo: []int{14}}))
	is.True(!svc.includeEvent(Event{SafetyRelatedMessage: boolPtr(true)}))
}

func TestNormalizeRoadToken(t *testing.T) {
	is := is.New(t)

	is.Equal(normalizeRoadToken("Väg 163"), "163")
	is.Equal(normalizeRoadToken("road  E4"), "e4")
	is.Equal(normalizeRoadToken("  E 6   mot  Göteborg "), "e 6 mot göteborg")
	is.Equal(normalizeRoadToken(""), "")
}

func TestRoadFilter(t *testing.T) {
	is := is.New(t)

	svc := countyModeSvc(CountyAll)
	svc.opts.FilterRoads = []string{"Väg 163"}

	kept := svc.applyRoadFilter([]Event{
		{DeviationID: "match-number", RoadNumber: "163"},
		{DeviationID: "match-name", RoadName: "Gamla vägen 163", RoadNumber: "E4"},
		{DeviationID: "no-match", RoadNumber: "E4"},
		{DeviationID: "important", RoadNumber: "E4", SafetyRelatedMessage: boolPtr(true)},
	})

	ids := make([]string, 0, len(kept))
	for _, e := range kept {
		ids = append(ids, e.DeviationID)
	}

	is.Equal(ids, []string{"match-number", "match-name", "important"})
}

func TestRoadFilterPassthroughWithoutTokens(t *testing.T) {
	is := is.New(t)

	svc := countyModeSvc(CountyAll)
	events := []Event{{DeviationID: "a"}, {DeviationID: "b"}}

	is.Equal(len(svc.applyRoadFilter(events)), 2)
}
