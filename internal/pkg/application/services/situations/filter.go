package situations

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/diwise/trafikinfo-se/internal/pkg/infrastructure/geom"
)

// importantMessageType is the upstream category for nationwide safety
// critical messages, which frequently carry no geometry at all.
const importantMessageType = "Viktig trafikinformation"

// isImportantEvent reports whether the event is a safety or nationwide
// message, which survives area and road filtering even without usable
// location data and ranks first under relevance sorting.
func isImportantEvent(e Event) bool {
	if e.SafetyRelatedMessage != nil && *e.SafetyRelatedMessage {
		return true
	}

	return e.MessageType == importantMessageType
}

func (svc *situationSvc) includeEvent(e Event) bool {
	if svc.opts.FilterMode == FilterModeCounty {
		return svc.inCounties(e)
	}

	return svc.inRadius(e)
}

func (svc *situationSvc) inRadius(e Event) bool {
	if e.GeometryWGS84 == "" {
		return isImportantEvent(e)
	}

	center := geom.Point{Lon: svc.opts.Longitude, Lat: svc.opts.Latitude}

	d, ok := geom.MinDistanceKm(center, e.GeometryWGS84)
	if !ok {
		return false
	}

	radius := svc.opts.RadiusKm
	if radius < minRadiusKm {
		radius = minRadiusKm
	}

	return d <= radius
}

func (svc *situationSvc) inCounties(e Event) bool {
	if _, all := svc.counties[CountyAll]; all {
		return true
	}

	if len(svc.counties) == 0 {
		return false
	}

	if len(e.CountyNo) == 0 {
		return isImportantEvent(e)
	}

	for _, c := range e.CountyNo {
		if _, ok := svc.counties[strconv.Itoa(c)]; ok {
			return true
		}
	}

	return false
}

var roadPrefixRegexp = regexp.MustCompile(`(?i)^(väg|vag|road)\s+`)
var whitespaceRegexp = regexp.MustCompile(`\s+`)

// normalizeRoadToken accepts user friendly inputs like "Väg 163" or
// "Road 163" and reduces them to a comparable form.
func normalizeRoadToken(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return ""
	}

	s = roadPrefixRegexp.ReplaceAllString(s, "")
	s = whitespaceRegexp.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

func roadFilterMatch(e Event, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}

	roadText := strings.ToLower(e.RoadName + " " + e.RoadNumber)
	roadNo := strings.ToLower(strings.TrimSpace(e.RoadNumber))

	for _, t := range tokens {
		if t == "" {
			continue
		}
		if roadNo != "" && t == roadNo {
			return true
		}
		if strings.Contains(roadText, t) {
			return true
		}
	}

	return false
}

// applyRoadFilter narrows events to the configured roads, but never drops
// important safety or nationwide messages.
func (svc *situationSvc) applyRoadFilter(events []Event) []Event {
	if len(svc.opts.FilterRoads) == 0 {
		return events
	}

	tokens := make([]string, 0, len(svc.opts.FilterRoads))
	for _, r := range svc.opts.FilterRoads {
		if t := normalizeRoadToken(r); t != "" {
			tokens = append(tokens, t)
		}
	}

	if len(tokens) == 0 {
		return events
	}

	out := make([]Event, 0, len(events))
	for _, e := range events {
		if isImportantEvent(e) || roadFilterMatch(e, tokens) {
			out = append(out, e)
		}
	}

	return out
}
