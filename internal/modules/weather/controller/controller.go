package controller

import (
	"context"
	"log/slog"
	"net/http"

	"opensmartcity-bridge/internal/modules/weather/service"
	"opensmartcity-bridge/internal/modules/weather/types"
)

// StateReader is the read side of the current-state store.
type StateReader interface {
	GetChannelStates(ctx context.Context) ([]types.ChannelState, error)
	GetStatus(ctx context.Context) (types.ThingStatus, error)
}

// Refresher triggers polling cycles on demand.
type Refresher interface {
	Refresh(ctx context.Context) bool
	Phase() service.Phase
}

type WeatherController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type weatherControllerImpl struct {
	repository StateReader
	refresher  Refresher
	thingID    string
	logger     *slog.Logger
}

func NewWeatherController(repo StateReader, refresher Refresher, thingID string, logger *slog.Logger) WeatherController {
	if logger == nil {
		logger = slog.Default()
	}
	return &weatherControllerImpl{repository: repo, refresher: refresher, thingID: thingID, logger: logger}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleStatusPage)
	mux.HandleFunc("GET /api/v1/state", c.handleState)
	mux.HandleFunc("POST /api/v1/refresh", c.handleRefresh)
}
