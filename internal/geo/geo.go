// Package geo holds the geographic point type and great-circle distance used
// for nearest-station selection.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius of the spherical model.
const EarthRadiusKm = 6371.01

// Point is a WGS 84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

var ErrInvalidPoint = errors.New("invalid point")

// ParsePoint parses "lat,lon" (an optional third altitude component is ignored).
func ParsePoint(s string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Point{}, fmt.Errorf("%w: %q (expected \"lat,lon\")", ErrInvalidPoint, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q: %v", ErrInvalidPoint, parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q: %v", ErrInvalidPoint, parts[1], err)
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, fmt.Errorf("%w: %q out of range", ErrInvalidPoint, s)
	}
	return p, nil
}

// FromGeoJSON builds a Point from a GeoJSON position, which is [lon, lat].
func FromGeoJSON(lon, lat float64) Point {
	return Point{Lat: lat, Lon: lon}
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// DistanceKm returns the great-circle distance between a and b in kilometres.
func DistanceKm(a, b Point) float64 {
	angle := s2.LatLngFromDegrees(a.Lat, a.Lon).Distance(s2.LatLngFromDegrees(b.Lat, b.Lon))
	return angle.Radians() * EarthRadiusKm
}
