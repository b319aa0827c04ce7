package sensorthings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Observation is the newest reading of a datastream.
type Observation struct {
	Result float64
	// PhenomenonTime is zero when the server omits it or sends something unparsable.
	PhenomenonTime time.Time
}

// FetchLatest requests path (see LatestObservationPath) and extracts
// value[0].Observations[0].
func (c *Client) FetchLatest(ctx context.Context, path string) (Observation, error) {
	body, err := c.fetch(ctx, path)
	if err != nil {
		return Observation{}, err
	}

	obs, err := parseLatest(body)
	if err != nil {
		return Observation{}, parseError(c.URL(path), err)
	}
	return obs, nil
}

func parseLatest(body []byte) (Observation, error) {
	if !gjson.ValidBytes(body) {
		return Observation{}, errors.New("invalid JSON")
	}
	value := gjson.GetBytes(body, "value")
	if !value.IsArray() {
		return Observation{}, errors.New(`missing "value" array`)
	}
	if !value.Get("0").Exists() {
		return Observation{}, fmt.Errorf("no datastream matched: %w", ErrNoObservations)
	}

	observations := value.Get("0.Observations")
	if !observations.IsArray() {
		return Observation{}, errors.New(`datastream has no "Observations" array`)
	}
	first := observations.Get("0")
	if !first.Exists() {
		return Observation{}, ErrNoObservations
	}

	result, err := numericResult(first.Get("result"))
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		Result:         result,
		PhenomenonTime: phenomenonTime(first.Get("phenomenonTime").String()),
	}, nil
}

func numericResult(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("result %q is not numeric", r.Str)
		}
		// ParseFloat accepts "NaN" and "Inf"; sinks cannot store either.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("result %q is not a finite number", r.Str)
		}
		return f, nil
	case gjson.Null:
		if !r.Exists() {
			return 0, errors.New(`observation has no "result"`)
		}
		return 0, errors.New("result is null")
	default:
		return 0, fmt.Errorf("result %s is not numeric", r.Raw)
	}
}

// phenomenonTime accepts an instant or an ISO 8601 interval, in which case
// the end of the interval is used.
func phenomenonTime(s string) time.Time {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
