// Package metrics exposes cycle and state metrics for Prometheus.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"opensmartcity-bridge/internal/modules/weather/types"
)

const metricPrefix = "opensmartcity_bridge_"

// Metrics records poll cycles and doubles as a types.StateSink so the last
// published values show up as gauges.
type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	channelValue    *prometheus.GaugeVec
	thingOnline     prometheus.Gauge
	thingStatus     *prometheus.GaugeVec
	nearestDistance *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "poll_cycles_total",
			Help: "Completed poll cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_cycle_duration_seconds",
			Help:    "Wall time of a poll cycle including publication.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "channel_value",
			Help: "Last value published per channel.",
		}, []string{"channel", "unit"}),
		thingOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "thing_online",
			Help: "1 if the thing status is ONLINE, 0 otherwise.",
		}),
		thingStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "thing_status",
			Help: "Current thing status; the active status and detail pair is 1.",
		}, []string{"status", "detail"}),
		nearestDistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "nearest_station_distance_km",
			Help: "Distance from the reference point to the nearest online station.",
		}, []string{"station"}),
	}
	reg.MustRegister(m.cycles, m.cycleDuration, m.channelValue, m.thingOnline, m.thingStatus, m.nearestDistance)
	return m
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// ObserveNearest keeps a single series; a change of station replaces it.
func (m *Metrics) ObserveNearest(station string, distanceKm float64) {
	m.nearestDistance.Reset()
	m.nearestDistance.WithLabelValues(station).Set(distanceKm)
}

func (m *Metrics) Publish(_ context.Context, channel types.ChannelID, state types.State) error {
	m.channelValue.WithLabelValues(string(channel), string(types.UnitOf(state))).Set(state.Float())
	return nil
}

func (m *Metrics) PublishStatus(_ context.Context, status types.Status, detail types.StatusDetail) error {
	if status == types.StatusOnline {
		m.thingOnline.Set(1)
	} else {
		m.thingOnline.Set(0)
	}
	m.thingStatus.Reset()
	m.thingStatus.WithLabelValues(string(status), string(detail)).Set(1)
	return nil
}

// RegisterStoreMetrics adds a gauge reading the number of stored channel rows.
func RegisterStoreMetrics(reg prometheus.Registerer, db *sql.DB, logger *slog.Logger) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "stored_channels",
			Help: "Channels with a stored current value.",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM channel_state")
		},
	))
}

func queryCount(db *sql.DB, logger *slog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", "error", err)
		}
		return 0
	}
	return float64(count)
}
