package situations

import (
	"math"
	"sort"

	"github.com/diwise/trafikinfo-se/internal/pkg/infrastructure/geom"
)

type eventKey struct {
	situationID string
	deviationID string
}

// EventDistanceKm computes the minimum distance in km from the configured
// sorting reference point to the event geometry. The second return value
// is false when the event has no resolvable geometry.
func (svc *situationSvc) EventDistanceKm(e Event) (float64, bool) {
	if e.GeometryWGS84 == "" {
		return 0, false
	}

	ref := geom.Point{Lon: svc.opts.SortLongitude, Lat: svc.opts.SortLatitude}

	return geom.MinDistanceKm(ref, e.GeometryWGS84)
}

// SortEvents orders a copy of the given events under the configured sort
// mode. All three orderings are total and deterministic, ending in the
// (situationID, deviationID) tie break.
func (svc *situationSvc) SortEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)

	if len(out) == 0 {
		return out
	}

	byIDs := func(a, b Event) bool {
		if a.SituationID != b.SituationID {
			return a.SituationID < b.SituationID
		}
		return a.DeviationID < b.DeviationID
	}

	if svc.opts.SortMode == SortModeNewest {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			ta, tb := pubTimestamp(a), pubTimestamp(b)
			if !ta.Equal(tb) {
				return ta.After(tb)
			}
			return byIDs(a, b)
		})
		return out
	}

	// Nearest and relevance need distances; memoize per event identity for
	// the duration of this call so comparisons never recompute.
	distances := map[eventKey]float64{}
	distanceOf := func(e Event) float64 {
		key := eventKey{e.SituationID, e.DeviationID}
		if d, ok := distances[key]; ok {
			return d
		}
		d, ok := svc.EventDistanceKm(e)
		if !ok {
			d = math.Inf(1)
		}
		distances[key] = d
		return d
	}

	nearestLess := func(a, b Event) bool {
		da, db := distanceOf(a), distanceOf(b)
		if da != db {
			return da < db
		}
		ta, tb := pubTimestamp(a), pubTimestamp(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return byIDs(a, b)
	}

	if svc.opts.SortMode == SortModeNearest {
		sort.SliceStable(out, func(i, j int) bool {
			return nearestLess(out[i], out[j])
		})
		return out
	}

	// Default: relevance. Important events first, then the nearest chain.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ia, ib := isImportantEvent(a), isImportantEvent(b)
		if ia != ib {
			return ia
		}
		return nearestLess(a, b)
	})

	return out
}

// TopEvents sorts the current snapshot and truncates it to the configured
// max items cap. A cap of zero surfaces no events.
func (svc *situationSvc) TopEvents() []Event {
	snapshot := svc.Snapshot()
	if snapshot == nil {
		return []Event{}
	}

	sorted := svc.SortEvents(snapshot.Events)

	if len(sorted) > svc.opts.MaxItems {
		sorted = sorted[:svc.opts.MaxItems]
	}

	return sorted
}
