package sensorthings

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed SensorThings request.
type ErrorKind int

const (
	// KindHTTPStatus is a non-200 response.
	KindHTTPStatus ErrorKind = iota + 1
	// KindTransport covers connection errors, timeouts and cancellation.
	KindTransport
	// KindParse is a response whose shape could not be used.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindHTTPStatus:
		return "http_status"
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

var (
	ErrNoStations     = errors.New("no usable stations in response")
	ErrNoObservations = errors.New("no observation in response")
)

// FetchError is returned by every request in this package.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("sensorthings: %s returned status %d", e.URL, e.StatusCode)
	case KindTransport:
		return fmt.Sprintf("sensorthings: request %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("sensorthings: %s %s: %v", e.Kind, e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf reports the kind of a *FetchError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func parseError(url string, err error) *FetchError {
	return &FetchError{Kind: KindParse, URL: url, Err: err}
}
