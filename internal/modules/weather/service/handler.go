package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"opensmartcity-bridge/internal/geo"
	"opensmartcity-bridge/internal/modules/weather/types"
	"opensmartcity-bridge/internal/scheduler"
)

// ErrConfiguration means the handler cannot run with its configuration.
var ErrConfiguration = errors.New("configuration error")

const defaultApplyTimeout = 10 * time.Second

// CycleRecorder observes finished cycles. Implemented by internal/metrics.
type CycleRecorder interface {
	ObserveCycle(outcome string, d time.Duration)
	ObserveNearest(station string, distanceKm float64)
}

type HandlerOptions struct {
	Source    Source
	Sink      types.StateSink
	Scheduler scheduler.Scheduler
	// ReferenceLocation is the raw "lat,lon" setting.
	ReferenceLocation string
	RefreshInterval   time.Duration
	StationMode       string
	StationName       string
	Targets           []types.Target
	Recorder          CycleRecorder
	Logger            *slog.Logger
	// ApplyTimeout bounds the sink calls of one cycle, which run while
	// Dispose and Refresh wait on the handler lock. Defaults to 10s.
	ApplyTimeout time.Duration
}

// Handler owns the lifecycle of the polled thing: it validates the
// configuration, schedules cycles and discards results after Dispose.
type Handler struct {
	opts   HandlerOptions
	logger *slog.Logger

	// mu guards handle and generation, and is held while a result is applied
	// so nothing is published after Dispose returns.
	mu         sync.Mutex
	handle     scheduler.Handle
	generation uint64

	poller  atomic.Pointer[Poller]
	running sync.Mutex
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Targets) == 0 {
		opts.Targets = DefaultTargets()
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = defaultApplyTimeout
	}
	return &Handler{opts: opts, logger: opts.Logger}
}

// Initialize parses the reference location and schedules the cycle. On a bad
// location the thing goes OFFLINE / CONFIGURATION_ERROR and nothing is
// scheduled.
func (h *Handler) Initialize(ctx context.Context) error {
	raw := strings.TrimSpace(h.opts.ReferenceLocation)
	if raw == "" {
		h.configurationError(ctx, errors.New("reference location is not set"))
		return fmt.Errorf("%w: reference location is not set", ErrConfiguration)
	}
	ref, err := geo.ParsePoint(raw)
	if err != nil {
		h.configurationError(ctx, err)
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	p := NewPoller(PollerOptions{
		Source:      h.opts.Source,
		Reference:   ref,
		Targets:     h.opts.Targets,
		StationMode: h.opts.StationMode,
		StationName: h.opts.StationName,
		Logger:      h.logger,
	})
	h.poller.Store(p)

	if err := h.opts.Sink.PublishStatus(ctx, types.StatusOnline, types.DetailNone); err != nil {
		h.logger.Warn("publish thing status", "status", types.StatusOnline, "error", err)
	}

	if h.handle != nil && !h.handle.Cancelled() {
		return nil
	}
	gen := h.generation
	jobCtx := context.WithoutCancel(ctx)
	h.handle = h.opts.Scheduler.ScheduleFixedDelay(func() {
		h.runCycle(jobCtx, gen)
	}, 0, h.opts.RefreshInterval)

	h.logger.Info("weather polling scheduled",
		"reference", ref.String(),
		"interval", h.opts.RefreshInterval,
		"station_mode", h.opts.StationMode,
		"targets", len(h.opts.Targets),
	)
	return nil
}

func (h *Handler) configurationError(ctx context.Context, err error) {
	h.logger.Error("invalid reference location", "value", h.opts.ReferenceLocation, "error", err)
	if perr := h.opts.Sink.PublishStatus(ctx, types.StatusOffline, types.DetailConfigurationError); perr != nil {
		h.logger.Warn("publish thing status", "status", types.StatusOffline, "error", perr)
	}
}

// Refresh runs a cycle now. It returns false if the handler is not
// initialized or a cycle is already in flight.
func (h *Handler) Refresh(ctx context.Context) bool {
	h.mu.Lock()
	gen := h.generation
	live := h.handle != nil
	h.mu.Unlock()
	if !live {
		return false
	}
	return h.runCycle(context.WithoutCancel(ctx), gen)
}

// Dispose cancels the scheduled job. Calling it more than once is harmless.
func (h *Handler) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.generation++
	if h.handle != nil {
		h.handle.Cancel()
		h.handle = nil
		h.logger.Info("weather polling stopped")
	}
	h.poller.Store(nil)
}

// Phase reports the current cycle phase; Idle when not initialized.
func (h *Handler) Phase() Phase {
	if p := h.poller.Load(); p != nil {
		return p.Phase()
	}
	return PhaseIdle
}

func (h *Handler) runCycle(ctx context.Context, gen uint64) bool {
	if !h.running.TryLock() {
		h.logger.Debug("cycle already in flight, skipping")
		return false
	}
	defer h.running.Unlock()

	p := h.poller.Load()
	if p == nil {
		return false
	}

	start := time.Now()
	res := p.Poll(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.generation {
		h.logger.Debug("discarding cycle result after dispose", "outcome", res.Outcome)
		return true
	}
	applyCtx, cancel := context.WithTimeout(ctx, h.opts.ApplyTimeout)
	p.Apply(applyCtx, res, h.opts.Sink)
	cancel()
	elapsed := time.Since(start)

	if h.opts.Recorder != nil {
		h.opts.Recorder.ObserveCycle(res.Outcome.String(), elapsed)
		if res.Nearest != nil {
			h.opts.Recorder.ObserveNearest(res.Nearest.Name, res.Nearest.DistanceKm)
		}
	}

	attrs := []any{"outcome", res.Outcome, "duration_ms", elapsed.Milliseconds()}
	if res.Nearest != nil {
		attrs = append(attrs, "station", res.Nearest.Name, "distance_km", res.Nearest.DistanceKm)
	}
	if res.Err != nil {
		h.logger.Warn("cycle failed", append(attrs, "status_code", res.StatusCode, "error", res.Err)...)
	} else {
		h.logger.Info("cycle complete", append(attrs, "values", len(res.Values))...)
	}
	return true
}
