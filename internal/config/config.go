package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StationModeStatic  = "static"
	StationModeNearest = "nearest"

	defaultStationName = "Dorper Straße / Goerdeler Straße"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// SensorThingsBaseURL is the bridge base path every query path is appended to.
	SensorThingsBaseURL  string
	SensorThingsUsername string
	SensorThingsPassword string
	RefreshInterval      time.Duration
	HTTPTimeout          time.Duration

	// ReferenceLocation is kept raw ("lat,lon"); the weather handler validates it
	// so a bad value degrades the thing instead of aborting startup.
	ReferenceLocation string
	StationMode       string
	StationName       string
	TargetsFile       string
	ThingID           string

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("SENSORTHINGS_BASE_URL")), "/")
	if baseURL == "" {
		return Config{}, fmt.Errorf("SENSORTHINGS_BASE_URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid SENSORTHINGS_BASE_URL %q (expected absolute http(s) URL)", baseURL)
	}

	username := strings.TrimSpace(os.Getenv("SENSORTHINGS_USERNAME"))
	password := os.Getenv("SENSORTHINGS_PASSWORD")
	if (username == "") != (password == "") {
		return Config{}, fmt.Errorf("SENSORTHINGS_USERNAME and SENSORTHINGS_PASSWORD must be set together")
	}

	refreshStr := strings.TrimSpace(os.Getenv("REFRESH_INTERVAL"))
	if refreshStr == "" {
		refreshStr = "60s"
	}
	refreshInterval, err := parseInterval(refreshStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid REFRESH_INTERVAL %q: %w", refreshStr, err)
	}
	if refreshInterval <= 0 {
		return Config{}, fmt.Errorf("REFRESH_INTERVAL must be positive, got %v", refreshInterval)
	}

	timeoutStr := strings.TrimSpace(os.Getenv("HTTP_TIMEOUT"))
	if timeoutStr == "" {
		timeoutStr = "10s"
	}
	httpTimeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", timeoutStr, err)
	}
	if httpTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", httpTimeout)
	}

	stationMode := strings.ToLower(strings.TrimSpace(os.Getenv("STATION_MODE")))
	if stationMode == "" {
		stationMode = StationModeStatic
	}
	switch stationMode {
	case StationModeStatic, StationModeNearest:
	default:
		return Config{}, fmt.Errorf("invalid STATION_MODE %q (allowed: static, nearest)", stationMode)
	}

	stationName := strings.TrimSpace(os.Getenv("STATION_NAME"))
	if stationName == "" {
		stationName = defaultStationName
	}

	thingID := strings.TrimSpace(os.Getenv("THING_ID"))
	if thingID == "" {
		thingID = "weather"
	}
	if strings.ContainsAny(thingID, "/#+") {
		return Config{}, fmt.Errorf("invalid THING_ID %q (must not contain '/', '#' or '+')", thingID)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "opensmartcity-bridge"
	}

	mqttTopicPrefix := strings.Trim(strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")), "/")
	if mqttTopicPrefix == "" {
		mqttTopicPrefix = "opensmartcity"
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("SQLITE_DSN"))
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "data/state.db"
	}

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_IDLE_CONNS"))
	if maxIdleConnsStr == "" {
		maxIdleConnsStr = "1"
	}
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              httpAddr,
		SensorThingsBaseURL:   baseURL,
		SensorThingsUsername:  username,
		SensorThingsPassword:  password,
		RefreshInterval:       refreshInterval,
		HTTPTimeout:           httpTimeout,
		ReferenceLocation:     strings.TrimSpace(os.Getenv("REFERENCE_LOCATION")),
		StationMode:           stationMode,
		StationName:           stationName,
		TargetsFile:           strings.TrimSpace(os.Getenv("TARGETS_FILE")),
		ThingID:               thingID,
		MQTTBroker:            mqttBroker,
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		MQTTTopicPrefix:       mqttTopicPrefix,
		SQLiteDriver:          driver,
		SQLiteDSN:             dsn,
		SQLitePath:            path,
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
	}, nil
}

// parseInterval accepts plain seconds ("300") as well as Go durations ("5m").
func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
