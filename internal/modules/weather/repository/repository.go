package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opensmartcity-bridge/internal/modules/weather/types"
)

//go:embed sql/upsert-channel-state.sql
var upsertChannelStateSQL string

//go:embed sql/upsert-thing-status.sql
var upsertThingStatusSQL string

//go:embed sql/get-channel-states.sql
var getChannelStatesSQL string

//go:embed sql/get-thing-status.sql
var getThingStatusSQL string

// ErrNoStatus is returned by GetStatus before the first status was stored.
var ErrNoStatus = errors.New("no status stored")

// StateRepository is the current-state store. It is a types.StateSink; every
// publication overwrites the previous row, nothing is kept as history.
type StateRepository interface {
	types.StateSink
	GetChannelStates(ctx context.Context) ([]types.ChannelState, error)
	GetStatus(ctx context.Context) (types.ThingStatus, error)
}

type repositoryImpl struct {
	db      *sql.DB
	thingID string
	now     func() time.Time
}

func NewRepository(db *sql.DB, thingID string) StateRepository {
	return &repositoryImpl{db: db, thingID: thingID, now: time.Now}
}

func (r *repositoryImpl) Publish(ctx context.Context, channel types.ChannelID, state types.State) error {
	_, err := r.db.ExecContext(ctx, upsertChannelStateSQL,
		r.thingID,
		string(channel),
		state.Float(),
		string(types.UnitOf(state)),
		state.String(),
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store channel %s: %w", channel, err)
	}
	return nil
}

func (r *repositoryImpl) PublishStatus(ctx context.Context, status types.Status, detail types.StatusDetail) error {
	_, err := r.db.ExecContext(ctx, upsertThingStatusSQL,
		r.thingID,
		string(status),
		string(detail),
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

func (r *repositoryImpl) GetChannelStates(ctx context.Context) ([]types.ChannelState, error) {
	rows, err := r.db.QueryContext(ctx, getChannelStatesSQL, r.thingID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close channel state rows", "error", err)
		}
	}()

	out := []types.ChannelState{}
	for rows.Next() {
		var (
			s       types.ChannelState
			channel string
			unit    string
			ts      string
		)
		if err := rows.Scan(&channel, &s.Value, &unit, &s.State, &ts); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		s.Channel = types.ChannelID(channel)
		s.Unit = types.Unit(unit)
		s.UpdatedAt = t
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetStatus(ctx context.Context) (types.ThingStatus, error) {
	var status, detail, ts string
	err := r.db.QueryRowContext(ctx, getThingStatusSQL, r.thingID).Scan(&status, &detail, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ThingStatus{}, ErrNoStatus
	}
	if err != nil {
		return types.ThingStatus{}, err
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return types.ThingStatus{}, err
	}
	return types.ThingStatus{
		Status:    types.Status(status),
		Detail:    types.StatusDetail(detail),
		UpdatedAt: t,
	}, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}
