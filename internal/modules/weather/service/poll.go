package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"opensmartcity-bridge/internal/config"
	"opensmartcity-bridge/internal/geo"
	"opensmartcity-bridge/internal/modules/weather/types"
	"opensmartcity-bridge/internal/sensorthings"
)

// Phase is the position of the poller within a cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseFetching
	PhasePublishing
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseFetching:
		return "fetching"
	case PhasePublishing:
		return "publishing"
	case PhaseDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeHTTPFailure
	OutcomeTransportFailure
	OutcomeParseFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeHTTPFailure:
		return "http_failure"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Source is the SensorThings side of a cycle.
type Source interface {
	ResolveNearestOnline(ctx context.Context, ref geo.Point) (sensorthings.OrderedStations, error)
	FetchLatest(ctx context.Context, path string) (sensorthings.Observation, error)
}

// Value is one fetched and converted measurement.
type Value struct {
	Target      types.Target
	State       types.State
	Observation sensorthings.Observation
}

// PollResult is what one cycle produced. Values is set only on success.
type PollResult struct {
	Outcome    Outcome
	Values     []Value
	StatusCode int
	Err        error
	// Nearest is nil when resolution failed.
	Nearest *sensorthings.StationDistance
}

type PollerOptions struct {
	Source      Source
	Reference   geo.Point
	Targets     []types.Target
	StationMode string
	StationName string
	Logger      *slog.Logger
}

// Poller runs the resolve, fetch and publish steps of a cycle. It is not safe
// for concurrent Poll calls; Handler serializes them.
type Poller struct {
	source      Source
	ref         geo.Point
	targets     []types.Target
	stationMode string
	stationName string
	logger      *slog.Logger
	phase       atomic.Int32
}

func NewPoller(opts PollerOptions) *Poller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		source:      opts.Source,
		ref:         opts.Reference,
		targets:     opts.Targets,
		stationMode: opts.StationMode,
		stationName: opts.StationName,
		logger:      opts.Logger,
	}
}

func (p *Poller) Phase() Phase {
	return Phase(p.phase.Load())
}

func (p *Poller) setPhase(ph Phase) {
	p.phase.Store(int32(ph))
}

// Poll resolves the nearest station and fetches every target. It stops at
// the first failure, so a failed result never carries values.
func (p *Poller) Poll(ctx context.Context) PollResult {
	p.setPhase(PhaseResolving)
	stations, err := p.source.ResolveNearestOnline(ctx, p.ref)
	if err != nil {
		p.logger.Warn("resolve nearest station", "error", err)
		return failed(err)
	}
	nearest, _ := stations.Nearest()
	p.logger.Debug("nearest station resolved",
		"station_id", nearest.ID,
		"station", nearest.Name,
		"distance_km", nearest.DistanceKm,
		"candidates", len(stations),
	)

	filter := p.stationFilter(nearest)

	p.setPhase(PhaseFetching)
	values := make([]Value, 0, len(p.targets))
	for _, t := range p.targets {
		path := sensorthings.LatestObservationPath(t.Datastream, filter)
		obs, err := p.source.FetchLatest(ctx, path)
		if err != nil {
			p.logger.Warn("fetch latest observation", "channel", t.Channel, "error", err)
			res := failed(err)
			res.Nearest = &nearest
			return res
		}
		values = append(values, Value{Target: t, State: t.StateOf(obs.Result), Observation: obs})
	}

	return PollResult{Outcome: OutcomeSuccess, Values: values, Nearest: &nearest}
}

func (p *Poller) stationFilter(nearest sensorthings.StationDistance) sensorthings.StationFilter {
	if p.stationMode == config.StationModeNearest {
		return sensorthings.StationFilter{LocationName: nearest.Name}
	}
	return sensorthings.StationFilter{LocationName: p.stationName}
}

// Apply publishes res to sink. Every outcome ends with exactly one status
// publication; sink errors are logged and swallowed.
func (p *Poller) Apply(ctx context.Context, res PollResult, sink types.StateSink) {
	switch res.Outcome {
	case OutcomeSuccess:
		p.setPhase(PhasePublishing)
		for _, v := range res.Values {
			if err := sink.Publish(ctx, v.Target.Channel, v.State); err != nil {
				p.logger.Warn("publish channel state", "channel", v.Target.Channel, "error", err)
			}
		}
		p.publishStatus(ctx, sink, types.StatusOnline, types.DetailNone)
		p.setPhase(PhaseIdle)
	case OutcomeTransportFailure:
		p.setPhase(PhaseDegraded)
		p.publishStatus(ctx, sink, types.StatusOffline, types.DetailCommunicationError)
	default:
		p.setPhase(PhaseDegraded)
		p.publishStatus(ctx, sink, types.StatusOffline, types.DetailNone)
	}
}

func (p *Poller) publishStatus(ctx context.Context, sink types.StateSink, status types.Status, detail types.StatusDetail) {
	if err := sink.PublishStatus(ctx, status, detail); err != nil {
		p.logger.Warn("publish thing status", "status", status, "detail", detail, "error", err)
	}
}

func failed(err error) PollResult {
	res := PollResult{Err: err}
	switch sensorthings.KindOf(err) {
	case sensorthings.KindTransport:
		res.Outcome = OutcomeTransportFailure
	case sensorthings.KindHTTPStatus:
		res.Outcome = OutcomeHTTPFailure
		var fe *sensorthings.FetchError
		if errors.As(err, &fe) {
			res.StatusCode = fe.StatusCode
		}
	default:
		res.Outcome = OutcomeParseFailure
	}
	return res
}
