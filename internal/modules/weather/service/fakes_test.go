package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"opensmartcity-bridge/internal/geo"
	"opensmartcity-bridge/internal/modules/weather/types"
	"opensmartcity-bridge/internal/scheduler"
	"opensmartcity-bridge/internal/sensorthings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu       sync.Mutex
	stations sensorthings.OrderedStations
	resolve  error
	// fetch maps a datastream substring to its result.
	fetch     map[string]fakeFetch
	filters   []string
	resolved  int
	fetchHook func()
}

type fakeFetch struct {
	obs sensorthings.Observation
	err error
}

func (f *fakeSource) ResolveNearestOnline(ctx context.Context, ref geo.Point) (sensorthings.OrderedStations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
	if f.resolve != nil {
		return nil, f.resolve
	}
	return f.stations, nil
}

func (f *fakeSource) FetchLatest(ctx context.Context, path string) (sensorthings.Observation, error) {
	if f.fetchHook != nil {
		f.fetchHook()
	}
	u, err := url.Parse(path)
	if err != nil {
		return sensorthings.Observation{}, err
	}
	filter := u.Query().Get("$filter")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	for name, r := range f.fetch {
		if strings.Contains(filter, "substringof('"+name+"',name)") {
			return r.obs, r.err
		}
	}
	return sensorthings.Observation{}, fmt.Errorf("unexpected path %s", path)
}

func (f *fakeSource) lastFilters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.filters...)
}

func (f *fakeSource) set(name string, r fakeFetch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetch[name] = r
}

func okSource() *fakeSource {
	return &fakeSource{
		stations: sensorthings.OrderedStations{
			{Station: sensorthings.Station{ID: "1", Name: "Nordpark", Point: geo.Point{Lat: 51.01, Lon: 7.0}, Online: true}, DistanceKm: 1.1},
			{Station: sensorthings.Station{ID: "2", Name: "Südpark", Point: geo.Point{Lat: 52.0, Lon: 8.0}, Online: true}, DistanceKm: 131},
		},
		fetch: map[string]fakeFetch{
			"lufttemperatur": {obs: sensorthings.Observation{Result: 21.4}},
			"luftfeuchte":    {obs: sensorthings.Observation{Result: 64}},
		},
	}
}

func httpErr(code int) error {
	return &sensorthings.FetchError{Kind: sensorthings.KindHTTPStatus, StatusCode: code, URL: "http://x"}
}

func transportErr() error {
	return &sensorthings.FetchError{Kind: sensorthings.KindTransport, URL: "http://x", Err: context.DeadlineExceeded}
}

func parseErr() error {
	return &sensorthings.FetchError{Kind: sensorthings.KindParse, URL: "http://x", Err: sensorthings.ErrNoObservations}
}

type event struct {
	channel types.ChannelID
	state   types.State
	status  types.Status
	detail  types.StatusDetail
}

func (e event) isStatus() bool { return e.status != "" }

type recordingSink struct {
	mu     sync.Mutex
	events []event
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, channel types.ChannelID, state types.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{channel: channel, state: state})
	return s.err
}

func (s *recordingSink) PublishStatus(ctx context.Context, status types.Status, detail types.StatusDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{status: status, detail: detail})
	return s.err
}

func (s *recordingSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *recordingSink) values() []event {
	var out []event
	for _, e := range s.snapshot() {
		if !e.isStatus() {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) statuses() []event {
	var out []event
	for _, e := range s.snapshot() {
		if e.isStatus() {
			out = append(out, e)
		}
	}
	return out
}

// manualScheduler records jobs and runs them only when told to.
type manualScheduler struct {
	mu      sync.Mutex
	jobs    []func()
	handles []*manualHandle
	delays  []time.Duration
	periods []time.Duration
}

type manualHandle struct {
	mu        sync.Mutex
	cancelled bool
	cancels   int
}

func (h *manualHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	h.cancels++
}

func (h *manualHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (s *manualScheduler) ScheduleFixedDelay(job func(), initialDelay, period time.Duration) scheduler.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &manualHandle{}
	s.jobs = append(s.jobs, job)
	s.handles = append(s.handles, h)
	s.delays = append(s.delays, initialDelay)
	s.periods = append(s.periods, period)
	return h
}

// tick runs the most recently scheduled job unless its handle was cancelled.
func (s *manualScheduler) tick() {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return
	}
	job, h := s.jobs[len(s.jobs)-1], s.handles[len(s.handles)-1]
	s.mu.Unlock()
	if h.Cancelled() {
		return
	}
	job()
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
	nearest  []string
}

func (r *recorder) ObserveCycle(outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) ObserveNearest(station string, distanceKm float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nearest = append(r.nearest, station)
}

var errSink = errors.New("sink down")
