package situations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/diwise/trafikinfo-se/internal/pkg/application/services"
	"github.com/diwise/trafikinfo-se/internal/pkg/application/services/icons"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("tfv-situation-client")

const (
	FilterModeCoordinate = "coordinate"
	FilterModeCounty     = "county"

	SortModeRelevance = "relevance"
	SortModeNearest   = "nearest"
	SortModeNewest    = "newest"

	// CountyAll is the sentinel meaning every county is included.
	CountyAll = "all"

	DefaultRadiusKm        = 25.0
	DefaultMaxItems        = 25
	DefaultIntervalMinutes = 10

	minRadiusKm        = 0.1
	minIntervalMinutes = 1
)

// Options holds the filter, sort and polling configuration. It is owned by
// the service and only replaced through ApplyOptions, never mutated while
// an update pass is in flight.
type Options struct {
	FilterMode string

	// Coordinate mode: center point and radius.
	Latitude  float64
	Longitude float64
	RadiusKm  float64

	// County mode: county codes, or the CountyAll sentinel.
	Counties []string

	FilterRoads []string

	SortMode string
	// Sorting reference point. In coordinate mode this defaults to the
	// filter center; in county mode to the configured (or home) location.
	SortLatitude  float64
	SortLongitude float64

	MaxItems        int
	IntervalMinutes int
}

func (o Options) normalized() Options {
	if o.FilterMode != FilterModeCoordinate && o.FilterMode != FilterModeCounty {
		o.FilterMode = FilterModeCounty
	}

	if o.SortMode != SortModeRelevance && o.SortMode != SortModeNearest && o.SortMode != SortModeNewest {
		o.SortMode = SortModeRelevance
	}

	if o.FilterMode == FilterModeCounty && len(o.Counties) == 0 {
		o.Counties = []string{CountyAll}
	}

	if o.FilterMode == FilterModeCoordinate {
		o.SortLatitude = o.Latitude
		o.SortLongitude = o.Longitude
	} else if o.SortLatitude == 0 && o.SortLongitude == 0 {
		// county mode without a configured sort point: measure distances
		// from the filter center rather than from (0, 0)
		o.SortLatitude = o.Latitude
		o.SortLongitude = o.Longitude
	}

	if o.RadiusKm <= 0 {
		o.RadiusKm = DefaultRadiusKm
	}

	// zero is a valid cap meaning "surface no events"; the default is
	// applied at the configuration boundary, not here
	if o.MaxItems < 0 {
		o.MaxItems = 0
	}

	if o.IntervalMinutes < minIntervalMinutes {
		o.IntervalMinutes = DefaultIntervalMinutes
	}

	return o
}

func intervalDuration(minutes int) time.Duration {
	if minutes < minIntervalMinutes {
		minutes = minIntervalMinutes
	}

	return time.Duration(minutes) * time.Minute
}

// ParseList splits a single delimited configuration string on ";" and ","
// into trimmed, non empty tokens.
func ParseList(s string) []string {
	out := []string{}
	for _, chunk := range strings.Split(s, ";") {
		for _, part := range strings.Split(chunk, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}

	return out
}

type SituationService interface {
	services.Starter

	Update(ctx context.Context) (*Snapshot, error)
	ApplyOptions(opts Options)
	Snapshot() *Snapshot
	SortEvents(events []Event) []Event
	TopEvents() []Event
	EventDistanceKm(e Event) (float64, bool)
}

func NewSituationService(ctx context.Context, authKey, tfvURL string, opts Options, iconCache *icons.Cache, ctxBroker client.ContextBrokerClient, clock clockwork.Clock) SituationService {
	svc := &situationSvc{
		authKey:   strings.TrimSpace(authKey),
		tfvURL:    tfvURL,
		iconCache: iconCache,
		ctxBroker: ctxBroker,
		clock:     clock,
	}
	svc.ApplyOptions(opts)

	return svc
}

type situationSvc struct {
	authKey   string
	tfvURL    string
	opts      Options
	counties  map[string]struct{}
	iconCache *icons.Cache
	ctxBroker client.ContextBrokerClient
	clock     clockwork.Clock
	latest    *Snapshot
}

// ApplyOptions replaces the active configuration. The caller must not
// invoke it concurrently with an in flight update pass.
func (svc *situationSvc) ApplyOptions(opts Options) {
	svc.opts = opts.normalized()

	svc.counties = make(map[string]struct{}, len(svc.opts.Counties))
	for _, c := range svc.opts.Counties {
		svc.counties[c] = struct{}{}
	}
}

// Snapshot returns the most recent successful result, or nil before the
// first completed update pass.
func (svc *situationSvc) Snapshot() *Snapshot {
	return svc.latest
}

func (svc *situationSvc) Start(ctx context.Context) (chan struct{}, error) {
	done := make(chan struct{})

	go func() {
		tmr := svc.clock.NewTicker(intervalDuration(svc.opts.IntervalMinutes))

		defer func() {
			tmr.Stop()
			done <- struct{}{}
		}()

		for {
			select {
			case <-tmr.Chan():
				snapshot, err := svc.Update(ctx)
				if err != nil {
					logging.GetFromContext(ctx).Error(
						"failed to update traffic situations", "err", err.Error(),
					)
					continue
				}

				svc.publishAccidents(ctx, snapshot.Events)
			case <-ctx.Done():
				return
			}
		}
	}()

	return done, nil
}

// Update runs one poll: fetch, parse, filter. Icon caching for the
// filtered set is kicked off in the background and never delays or fails
// the returned snapshot.
func (svc *situationSvc) Update(ctx context.Context) (*Snapshot, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-traffic-situations")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(
		span, logging.GetFromContext(ctx), ctx,
	)

	if svc.authKey == "" {
		err = fmt.Errorf("update failed: %w: missing api key", ErrAuthentication)
		return nil, err
	}

	responseBody, err := svc.getSituationsFromTFV(ctx)
	if err != nil {
		err = fmt.Errorf("update failed: %w", err)
		return nil, err
	}

	data, err := parseResponse(responseBody, svc.clock.Now().UTC())
	if err != nil {
		err = fmt.Errorf("update failed: %w", err)
		return nil, err
	}

	filtered := make([]Event, 0, len(data.Events))
	for _, e := range data.Events {
		if svc.includeEvent(e) {
			filtered = append(filtered, e)
		}
	}
	filtered = svc.applyRoadFilter(filtered)

	log.Debug("filtered traffic situations",
		"mode", svc.opts.FilterMode,
		"events_before", len(data.Events),
		"events_after", len(filtered),
	)

	snapshot := &Snapshot{
		Events:       filtered,
		LastModified: data.LastModified,
		LastChangeID: data.LastChangeID,
		SSEURL:       data.SSEURL,
	}
	svc.latest = snapshot

	if svc.iconCache != nil {
		iconIDs := make([]string, 0, len(filtered))
		for _, e := range filtered {
			if e.IconID != "" {
				iconIDs = append(iconIDs, e.IconID)
			}
		}

		go svc.iconCache.EnsureManyCached(context.WithoutCancel(ctx), iconIDs)
	}

	return snapshot, nil
}
