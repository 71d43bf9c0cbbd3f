package situations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultDataURL is the Trafikverket datacache endpoint.
	DefaultDataURL = "https://api.trafikinfo.trafikverket.se/v2/data.xml"
	// DefaultIconURL serves icon binaries keyed by IconId.
	DefaultIconURL = "https://api.trafikinfo.trafikverket.se/v2/icons/data/road.infrastructure.icon/"
	// DefaultIconFallbackURL is the older typed icon endpoint.
	DefaultIconFallbackURL = "https://api.trafikinfo.trafikverket.se/v1/icons"

	situationSchemaVersion = "1.6"
	requestLimit           = 5000
	userAgent              = "trafikinfo-se"
)

var httpClient = http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
	Timeout:   20 * time.Second,
}

// buildSituationRequest produces the authenticated request document for
// the Situation object type, excluding soft deleted records server side.
func buildSituationRequest(authKey string, limit int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>`+
		`<REQUEST>`+
		`<LOGIN authenticationkey="%s" />`+
		`<QUERY objecttype="Situation" namespace="Road.TrafficInfo" schemaversion="%s" limit="%d">`+
		`<FILTER><AND><EQ name="Deleted" value="false" /></AND></FILTER>`+
		`<INCLUDE>CountryCode</INCLUDE>`+
		`<INCLUDE>Deleted</INCLUDE>`+
		`<INCLUDE>Id</INCLUDE>`+
		`<INCLUDE>PublicationTime</INCLUDE>`+
		`<INCLUDE>VersionTime</INCLUDE>`+
		`<INCLUDE>ModifiedTime</INCLUDE>`+
		`<INCLUDE>Deviation</INCLUDE>`+
		`</QUERY>`+
		`</REQUEST>`, authKey, situationSchemaVersion, limit)
}

func (svc *situationSvc) getSituationsFromTFV(ctx context.Context) ([]byte, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-traffic-situations")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	requestBody := buildSituationRequest(svc.authKey, requestLimit)

	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.tfvURL, bytes.NewBufferString(requestBody))
	if err != nil {
		err = fmt.Errorf("failed to create http request: %s", err.Error())
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	apiReq.Header.Set("User-Agent", userAgent)

	apiResponse, err := httpClient.Do(apiReq)
	if err != nil {
		log.Error("request for traffic situations failed", "err", err.Error())
		err = fmt.Errorf("%w: %s", ErrConnection, err.Error())
		return nil, err
	}
	defer apiResponse.Body.Close()

	responseBody, err := io.ReadAll(apiResponse.Body)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrConnection, err.Error())
		return nil, err
	}

	if apiResponse.StatusCode == http.StatusUnauthorized || apiResponse.StatusCode == http.StatusForbidden {
		err = fmt.Errorf("%w: HTTP %d", ErrAuthentication, apiResponse.StatusCode)
		return nil, err
	}

	if apiResponse.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: HTTP %d: %s", ErrAPI, apiResponse.StatusCode, excerpt(responseBody, 300))
		return nil, err
	}

	log.Debug("received response", "size", len(responseBody))

	return responseBody, nil
}

func excerpt(body []byte, max int) string {
	if len(body) > max {
		body = body[:max]
	}

	return string(body)
}
