package service

import (
	"context"
	"errors"

	"opensmartcity-bridge/internal/modules/weather/types"
)

// MultiSink fans every publication out to all sinks. A failing sink does not
// stop the others; errors are joined.
type MultiSink []types.StateSink

func (m MultiSink) Publish(ctx context.Context, channel types.ChannelID, state types.State) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, channel, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) PublishStatus(ctx context.Context, status types.Status, detail types.StatusDetail) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishStatus(ctx, status, detail); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
