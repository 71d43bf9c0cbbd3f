package situations

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/context-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types"
	test "github.com/diwise/context-broker/pkg/test"
	"github.com/jonboulle/clockwork"
	"github.com/matryer/is"
)

func TestUpdateProducesFilteredSnapshot(t *testing.T) {
	is, svc := setupMockSituationService(t, http.StatusOK, situationResponseXML)

	snapshot, err := svc.Update(context.Background())
	is.NoErr(err)

	// one suspended, one expired, one active and in radius
	is.Equal(len(snapshot.Events), 1)
	is.Equal(snapshot.Events[0].DeviationID, "SE_STA_TRISSID_1_16279394_1")
	is.Equal(snapshot.LastChangeID, "7089127599774892692")
	is.Equal(snapshot.SSEURL, "https://api.trafikinfo.trafikverket.se/v2/data.xml?sse=true")

	is.Equal(svc.Snapshot(), snapshot)
}

func TestUpdateWithMissingAPIKeyFailsWithoutNetworkCall(t *testing.T) {
	is := is.New(t)

	calls := 0
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(mock.Close)

	svc := newTestSvc("", mock.URL)

	_, err := svc.Update(context.Background())
	is.True(errors.Is(err, ErrAuthentication))
	is.Equal(calls, 0)
}

func TestUpdateClassifiesHTTPUnauthorized(t *testing.T) {
	is, svc := setupMockSituationService(t, http.StatusUnauthorized, "")

	_, err := svc.Update(context.Background())
	is.True(errors.Is(err, ErrAuthentication))
}

func TestUpdateClassifiesHTTPServerError(t *testing.T) {
	is, svc := setupMockSituationService(t, http.StatusInternalServerError, "upstream exploded")

	_, err := svc.Update(context.Background())
	is.True(errors.Is(err, ErrAPI))
}

func TestUpdateClassifiesConnectionFailure(t *testing.T) {
	is := is.New(t)

	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mock.Close()

	svc := newTestSvc("key", mock.URL)

	_, err := svc.Update(context.Background())
	is.True(errors.Is(err, ErrConnection))
}

func TestUpdatePropagatesErrorPayloads(t *testing.T) {
	is, svc := setupMockSituationService(t, http.StatusOK,
		`<RESPONSE><RESULT><ERROR><MESSAGE>Invalid authentication key</MESSAGE></ERROR></RESULT></RESPONSE>`)

	_, err := svc.Update(context.Background())
	is.True(errors.Is(err, ErrAuthentication))
}

func TestApplyOptionsChangesFiltering(t *testing.T) {
	is, svc := setupMockSituationService(t, http.StatusOK, situationResponseXML)

	svc.ApplyOptions(Options{
		FilterMode: FilterModeCoordinate,
		Latitude:   55.0,
		Longitude:  13.0,
		RadiusKm:   1,
	})

	snapshot, err := svc.Update(context.Background())
	is.NoErr(err)
	is.Equal(len(snapshot.Events), 0) // event geometry is far outside the new radius
}

func TestPublishAccidentsToContextBroker(t *testing.T) {
	is := is.New(t)

	ctxBroker := &test.ContextBrokerClientMock{
		CreateEntityFunc: func(ctx context.Context, entity types.Entity, headers map[string][]string) (*ngsild.CreateEntityResult, error) {
			return nil, nil
		},
		MergeEntityFunc: func(ctx context.Context, entityID string, fragment types.EntityFragment, headers map[string][]string) (*ngsild.MergeEntityResult, error) {
			return nil, ngsierrors.ErrNotFound
		},
	}

	svc := newTestSvc("key", "")
	svc.ctxBroker = ctxBroker

	svc.publishAccidents(context.Background(), []Event{
		{DeviationID: "d1", MessageType: accidentMessageType, Message: "Trafikolycka", GeometryWGS84: "POINT (13.0958767 55.9722252)"},
		{DeviationID: "d2", MessageType: "Vägarbete"},
	})

	// merge is attempted first; the accident is unknown, so create follows
	is.Equal(len(ctxBroker.MergeEntityCalls()), 1)
	is.Equal(len(ctxBroker.CreateEntityCalls()), 1)
}

func TestParseListSplitsOnBothDelimiters(t *testing.T) {
	is := is.New(t)

	is.Equal(ParseList("E4; Väg 163 ,  E6"), []string{"E4", "Väg 163", "E6"})
	is.Equal(ParseList(""), []string{})
}

func TestOptionsNormalization(t *testing.T) {
	is := is.New(t)

	o := Options{FilterMode: "sweden", SortMode: "bogus"}.normalized()
	is.Equal(o.FilterMode, FilterModeCounty)
	is.Equal(o.SortMode, SortModeRelevance)
	is.Equal(o.Counties, []string{CountyAll})
	is.Equal(o.IntervalMinutes, DefaultIntervalMinutes)

	o = Options{FilterMode: FilterModeCoordinate, Latitude: 59.3, Longitude: 18.0}.normalized()
	is.Equal(o.SortLatitude, 59.3) // coordinate mode sorts from the filter center
	is.Equal(o.SortLongitude, 18.0)
	is.Equal(o.RadiusKm, DefaultRadiusKm)
}

func TestOptionsNormalizationKeepsExplicitZeroMaxItems(t *testing.T) {
	is := is.New(t)

	o := Options{FilterMode: FilterModeCounty, MaxItems: 0}.normalized()
	is.Equal(o.MaxItems, 0) // zero means surface no events, not "use the default"

	o = Options{FilterMode: FilterModeCounty, MaxItems: -5}.normalized()
	is.Equal(o.MaxItems, 0)
}

func TestOptionsNormalizationCountyModeSortFallback(t *testing.T) {
	is := is.New(t)

	o := Options{FilterMode: FilterModeCounty, Latitude: 59.3, Longitude: 18.0}.normalized()
	is.Equal(o.SortLatitude, 59.3) // no configured sort point falls back to the filter center
	is.Equal(o.SortLongitude, 18.0)

	o = Options{FilterMode: FilterModeCounty, Latitude: 59.3, Longitude: 18.0, SortLatitude: 62.4, SortLongitude: 17.3}.normalized()
	is.Equal(o.SortLatitude, 62.4) // a configured sort point wins
	is.Equal(o.SortLongitude, 17.3)
}

func newTestSvc(authKey, tfvURL string) *situationSvc {
	opts := Options{
		FilterMode: FilterModeCoordinate,
		Latitude:   59.3,
		Longitude:  18.0,
		RadiusKm:   5,
	}

	return NewSituationService(context.Background(), authKey, tfvURL, opts, nil, nil, clockwork.NewFakeClockAt(parseNow)).(*situationSvc)
}

func setupMockSituationService(t *testing.T, statusCode int, body string) (*is.I, *situationSvc) {
	is := is.New(t)

	mock := setupMockServiceThatReturns(statusCode, body)
	t.Cleanup(mock.Close)

	return is, newTestSvc("key", mock.URL)
}

func setupMockServiceThatReturns(statusCode int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "text/xml")
		w.WriteHeader(statusCode)
		w.Write([]byte(body))
	}))
}
