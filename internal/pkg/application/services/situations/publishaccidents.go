package situations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/context-broker/pkg/datamodels/fiware"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities/decorators"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/diwise/trafikinfo-se/internal/pkg/infrastructure/geom"
)

// accidentMessageType is the upstream category for road accidents.
const accidentMessageType = "Olycka"

// publishAccidents forwards accident events from a snapshot to the context
// broker. Failures are logged per event and never fail the tick.
func (svc *situationSvc) publishAccidents(ctx context.Context, events []Event) {
	if svc.ctxBroker == nil {
		return
	}

	log := logging.GetFromContext(ctx)

	for _, e := range events {
		if e.MessageType != accidentMessageType {
			continue
		}

		err := svc.publishAccidentToContextBroker(ctx, e)
		if err != nil {
			log.Error("unable to publish road accident", "deviation", e.DeviationID, "err", err.Error())
		}
	}
}

func (svc *situationSvc) publishAccidentToContextBroker(ctx context.Context, e Event) error {
	var err error
	ctx, span := tracer.Start(ctx, "publish-to-broker")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	attributes := convertAccidentToFiwareEntity(e)

	fragment, _ := entities.NewFragment(attributes...)
	entityID := fiware.RoadAccidentIDPrefix + "se:trafikverket:api:deviation:" + e.DeviationID

	headers := map[string][]string{"Content-Type": {"application/ld+json"}}

	_, err = svc.ctxBroker.MergeEntity(ctx, entityID, fragment, headers)
	if err != nil {
		if !errors.Is(err, ngsierrors.ErrNotFound) {
			err = fmt.Errorf("failed to merge entity: %s", err.Error())
			return err
		}

		entity, newErr := entities.New(entityID, fiware.RoadAccidentTypeName, attributes...)
		if newErr != nil {
			err = fmt.Errorf("entities.New failed: %s", newErr.Error())
			return err
		}

		_, err = svc.ctxBroker.CreateEntity(ctx, entity, headers)
		if err != nil {
			err = fmt.Errorf("failed to post road accident to context broker: %s", err.Error())
			return err
		}
	}

	return nil
}

func convertAccidentToFiwareEntity(e Event) []entities.EntityDecoratorFunc {
	attributes := append(
		make([]entities.EntityDecoratorFunc, 0, 5),
		decorators.Description(e.Message),
		decorators.Status("onGoing"),
	)

	if pts := geom.ParsePoints(e.GeometryWGS84); len(pts) > 0 {
		attributes = append(attributes, decorators.Location(pts[0].Lat, pts[0].Lon))
	}

	if e.StartTime != nil {
		utcTime := e.StartTime.UTC().Format(time.RFC3339)
		attributes = append(attributes, decorators.DateCreated(utcTime), decorators.DateTime("accidentDate", utcTime))
	}

	return attributes
}
