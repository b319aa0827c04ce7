// Package scheduler runs periodic jobs on robfig/cron.
package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Handle is a scheduled job. Cancel is best-effort and non-blocking; a run
// already in progress is allowed to finish.
type Handle interface {
	Cancel()
	Cancelled() bool
}

type Scheduler interface {
	// ScheduleFixedDelay runs job once after initialDelay and then every
	// period. A trigger that arrives while the previous run is still going
	// is skipped. Panics in job are logged and recovered.
	ScheduleFixedDelay(job func(), initialDelay, period time.Duration) Handle
}

// Cron implements Scheduler with one cron.Cron per job, so cancelling one
// handle never affects another.
type Cron struct {
	logger *slog.Logger
}

func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cron{logger: logger.With("component", "scheduler")}
}

// ScheduleFixedDelay schedules job. cron resolves periods to whole seconds,
// so any period below one second behaves as one second. A non-positive
// period runs job only once.
func (s *Cron) ScheduleFixedDelay(job func(), initialDelay, period time.Duration) Handle {
	l := cronLogger{l: s.logger}
	wrapped := cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l)).Then(cron.FuncJob(job))

	h := &cronHandle{}
	if period > 0 {
		h.c = cron.New(cron.WithLogger(l))
		h.c.Schedule(cron.Every(period), wrapped)
		h.c.Start()
	}

	if initialDelay < 0 {
		initialDelay = 0
	}
	h.mu.Lock()
	h.timer = time.AfterFunc(initialDelay, func() {
		if h.Cancelled() {
			return
		}
		wrapped.Run()
	})
	h.mu.Unlock()

	s.logger.Debug("job scheduled", "initial_delay", initialDelay, "period", period)
	return h
}

type cronHandle struct {
	mu        sync.Mutex
	c         *cron.Cron
	timer     *time.Timer
	cancelled atomic.Bool
}

func (h *cronHandle) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.c != nil {
		// Stop returns a context done when running jobs finish; not awaited.
		h.c.Stop()
	}
}

func (h *cronHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// cronLogger adapts slog to cron.Logger. cron reports every wake-up at info,
// which is demoted to debug here.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
