package sensorthings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"opensmartcity-bridge/internal/geo"
)

// Station is one online SensorThings Location.
type Station struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Point  geo.Point `json:"point"`
	Online bool      `json:"online"`
}

// StationDistance pairs a station with its distance from the reference point.
type StationDistance struct {
	Station
	DistanceKm float64 `json:"distance_km"`
}

// OrderedStations is sorted ascending by distance; ties keep response order.
type OrderedStations []StationDistance

// Nearest returns the closest station. ok is false for an empty slice.
func (o OrderedStations) Nearest() (StationDistance, bool) {
	if len(o) == 0 {
		return StationDistance{}, false
	}
	return o[0], true
}

// ResolveNearestOnline fetches the online locations and orders them by
// great-circle distance from ref. Nothing is cached between calls.
func (c *Client) ResolveNearestOnline(ctx context.Context, ref geo.Point) (OrderedStations, error) {
	path := LocationsOnlinePath()
	body, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}

	stations, err := c.parseStations(body)
	if err != nil {
		return nil, parseError(c.URL(path), err)
	}
	return orderByDistance(ref, stations), nil
}

func (c *Client) parseStations(body []byte) ([]Station, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON")
	}
	value := gjson.GetBytes(body, "value")
	if !value.IsArray() {
		return nil, errors.New(`missing "value" array`)
	}

	var out []Station
	for i, entry := range value.Array() {
		st, err := parseStation(entry)
		if err != nil {
			c.logger.Debug("skip location", "index", i, "error", err)
			continue
		}
		if !st.Online {
			c.logger.Debug("skip offline location", "id", st.ID, "name", st.Name)
			continue
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, ErrNoStations
	}
	return out, nil
}

func parseStation(entry gjson.Result) (Station, error) {
	if !entry.IsObject() {
		return Station{}, errors.New("entry is not an object")
	}
	// "@iot.id" collides with gjson's modifier and path syntax, so look it up by key.
	fields := entry.Map()

	id, ok := fields["@iot.id"]
	if !ok || (id.Type != gjson.String && id.Type != gjson.Number) {
		return Station{}, errors.New(`missing "@iot.id"`)
	}
	name := fields["name"]
	if name.Type != gjson.String {
		return Station{}, errors.New(`missing "name"`)
	}

	coords := entry.Get("location.coordinates")
	if !coords.Exists() {
		coords = entry.Get("location.geometry.coordinates")
	}
	pos := coords.Array()
	if !coords.IsArray() || len(pos) < 2 || pos[0].Type != gjson.Number || pos[1].Type != gjson.Number {
		return Station{}, fmt.Errorf("location %s: missing [lon, lat] coordinates", id.String())
	}
	point := geo.FromGeoJSON(pos[0].Num, pos[1].Num)
	if !point.Valid() {
		return Station{}, fmt.Errorf("location %s: coordinates %v out of range", id.String(), point)
	}

	return Station{
		ID:     id.String(),
		Name:   name.String(),
		Point:  point,
		Online: online(entry.Get("Things")),
	}, nil
}

// online reports whether any expanded Thing has an online status. Without an
// expansion the server-side filter is trusted.
func online(things gjson.Result) bool {
	if !things.IsArray() {
		return true
	}
	for _, th := range things.Array() {
		status := th.Get("properties.status")
		if status.Type == gjson.String && strings.Contains(strings.ToLower(status.String()), "online") {
			return true
		}
	}
	return false
}

func orderByDistance(ref geo.Point, stations []Station) OrderedStations {
	out := make(OrderedStations, 0, len(stations))
	for _, st := range stations {
		out = append(out, StationDistance{Station: st, DistanceKm: geo.DistanceKm(ref, st.Point)})
	}
	slices.SortStableFunc(out, func(a, b StationDistance) int {
		switch {
		case a.DistanceKm < b.DistanceKm:
			return -1
		case a.DistanceKm > b.DistanceKm:
			return 1
		default:
			return 0
		}
	})
	return out
}
