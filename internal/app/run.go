package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"opensmartcity-bridge/internal/config"
	db "opensmartcity-bridge/internal/db"
	httpapi "opensmartcity-bridge/internal/httpapi"
	"opensmartcity-bridge/internal/metrics"
	"opensmartcity-bridge/internal/migrate"
	weather "opensmartcity-bridge/internal/modules/weather"
	weatherrepo "opensmartcity-bridge/internal/modules/weather/repository"
	weatherservice "opensmartcity-bridge/internal/modules/weather/service"
	weatherviews "opensmartcity-bridge/internal/modules/weather/views"
	"opensmartcity-bridge/internal/mqtt"
	"opensmartcity-bridge/internal/scheduler"
	"opensmartcity-bridge/internal/sensorthings"
)

var (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sensorThingsBaseURL", cfg.SensorThingsBaseURL,
		"sensorThingsAuth", cfg.SensorThingsUsername != "",
		"refreshInterval", cfg.RefreshInterval,
		"httpTimeout", cfg.HTTPTimeout,
		"referenceLocation", cfg.ReferenceLocation,
		"stationMode", cfg.StationMode,
		"stationName", cfg.StationName,
		"targetsFile", cfg.TargetsFile,
		"thingID", cfg.ThingID,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
	)

	targets, err := weatherservice.LoadTargets(cfg.TargetsFile)
	if err != nil {
		return err
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}

	var ok int
	err = dbConn.QueryRowContext(ctx, `SELECT 1`).Scan(&ok)
	if err != nil {
		return err
	}
	if ok != 1 {
		return errors.New("database connection failed")
	}
	logger.Info("database connection successful")

	if err := weatherviews.LoadTemplates(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	metrics.RegisterStoreMetrics(reg, dbConn, logger)

	publisher := mqtt.NewPublisher(cfg, logger)
	// Short timeout so startup does not block on a missing broker; paho keeps retrying.
	connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
	err = publisher.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt connection failed (continuing, will retry in background)", "error", err)
	}

	repo := weatherrepo.NewRepository(dbConn, cfg.ThingID)
	source := sensorthings.NewClient(sensorthings.Options{
		BaseURL:  cfg.SensorThingsBaseURL,
		Username: cfg.SensorThingsUsername,
		Password: cfg.SensorThingsPassword,
		Timeout:  cfg.HTTPTimeout,
		Logger:   logger,
	})
	handler := weatherservice.NewHandler(weatherservice.HandlerOptions{
		Source:            source,
		Sink:              weatherservice.MultiSink{repo, publisher, m},
		Scheduler:         scheduler.NewCron(logger),
		ReferenceLocation: cfg.ReferenceLocation,
		RefreshInterval:   cfg.RefreshInterval,
		StationMode:       cfg.StationMode,
		StationName:       cfg.StationName,
		Targets:           targets,
		Recorder:          m,
		Logger:            logger.With("thing", cfg.ThingID),
	})
	if err := handler.Initialize(ctx); err != nil {
		// The thing stays OFFLINE / CONFIGURATION_ERROR; the API keeps serving it.
		logger.Error("weather handler not started", "error", err)
	}
	defer handler.Dispose()

	mux := httpapi.NewMux(dbConn, reg, logger)
	weather.RegisterFeature(mux, repo, handler, cfg.ThingID, logger)

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		publisher.Disconnect()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("weather polling stopping")
	handler.Dispose()

	logger.Info("mqtt disconnecting")
	publisher.Disconnect()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
