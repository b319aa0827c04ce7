package weather

import (
	"log/slog"
	"net/http"

	"opensmartcity-bridge/internal/modules/weather/controller"
	"opensmartcity-bridge/internal/modules/weather/repository"
	"opensmartcity-bridge/internal/modules/weather/service"
)

func RegisterFeature(mux *http.ServeMux, repo repository.StateRepository, handler *service.Handler, thingID string, logger *slog.Logger) {
	weatherController := controller.NewWeatherController(repo, handler, thingID, logger)
	weatherController.RegisterRoutes(mux)
}
