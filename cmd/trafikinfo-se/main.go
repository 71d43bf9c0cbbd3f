package main

import (
	"context"
	"strconv"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/trafikinfo-se/internal/pkg/application/services/icons"
	"github.com/diwise/trafikinfo-se/internal/pkg/application/services/situations"
	"github.com/jonboulle/clockwork"
)

const serviceName string = "trafikinfo-se"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion, "json")
	defer cleanup()

	authKey := env.GetVariableOrDie(ctx, "TFV_API_AUTH_KEY", "API authentication key")
	tfvURL := env.GetVariableOrDefault(ctx, "TFV_API_URL", situations.DefaultDataURL)
	contextBrokerURL := env.GetVariableOrDefault(ctx, "CONTEXT_BROKER_URL", "")
	iconCacheDir := env.GetVariableOrDefault(ctx, "ICON_CACHE_DIR", "/data/icons")

	opts := situations.Options{
		FilterMode:      env.GetVariableOrDefault(ctx, "TFV_FILTER_MODE", situations.FilterModeCounty),
		Latitude:        floatFromEnv(ctx, "TFV_LATITUDE", 0),
		Longitude:       floatFromEnv(ctx, "TFV_LONGITUDE", 0),
		RadiusKm:        floatFromEnv(ctx, "TFV_RADIUS_KM", situations.DefaultRadiusKm),
		Counties:        situations.ParseList(env.GetVariableOrDefault(ctx, "TFV_COUNTIES", situations.CountyAll)),
		FilterRoads:     situations.ParseList(env.GetVariableOrDefault(ctx, "TFV_FILTER_ROADS", "")),
		SortMode:        env.GetVariableOrDefault(ctx, "TFV_SORT_MODE", situations.SortModeRelevance),
		SortLatitude:    floatFromEnv(ctx, "TFV_SORT_LATITUDE", 0),
		SortLongitude:   floatFromEnv(ctx, "TFV_SORT_LONGITUDE", 0),
		MaxItems:        intFromEnv(ctx, "TFV_MAX_ITEMS", situations.DefaultMaxItems),
		IntervalMinutes: intFromEnv(ctx, "TFV_SCAN_INTERVAL_MINUTES", situations.DefaultIntervalMinutes),
	}

	var ctxBroker client.ContextBrokerClient
	if contextBrokerURL != "" {
		ctxBroker = client.NewContextBrokerClient(contextBrokerURL)
	}

	iconCache := icons.NewCache(iconCacheDir, situations.DefaultIconURL, situations.DefaultIconFallbackURL, serviceName)

	svc := situations.NewSituationService(ctx, authKey, tfvURL, opts, iconCache, ctxBroker, clockwork.NewRealClock())

	done, err := svc.Start(ctx)
	if err != nil {
		logger.Error("failed to start situation service", "err", err.Error())
		return
	}

	logger.Info("starting up ...", "version", serviceVersion)

	<-done
}

func floatFromEnv(ctx context.Context, name string, defaultValue float64) float64 {
	s := env.GetVariableOrDefault(ctx, name, "")
	if s == "" {
		return defaultValue
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}

	return v
}

func intFromEnv(ctx context.Context, name string, defaultValue int) int {
	s := env.GetVariableOrDefault(ctx, name, "")
	if s == "" {
		return defaultValue
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}

	return v
}
