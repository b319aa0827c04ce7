package sensorthings

import (
	"net/url"
	"strings"
)

const apiVersion = "/v1.1"

// queryParam is one OData system query option. Order is preserved when encoding.
type queryParam struct {
	key   string
	value string
}

func encodeQuery(params []queryParam) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.key))
		b.WriteByte('=')
		b.WriteString(escape(p.value))
	}
	return b.String()
}

// escape percent-encodes s; spaces become %20 rather than '+', which not every
// SensorThings server decodes inside $filter.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// LocationsOnlinePath selects Locations whose Things report an online status,
// with the Things expanded inline.
func LocationsOnlinePath() string {
	return apiVersion + "/Locations?" + encodeQuery([]queryParam{
		{"$expand", "Things"},
		{"$filter", "substringof('online', Things/properties/status)"},
	})
}

// StationFilter narrows the datastream query to one location by name.
type StationFilter struct {
	LocationName string
}

// LatestObservationPath selects the most recent observation of today for the
// first online datastream whose name contains datastreamName.
func LatestObservationPath(datastreamName string, station StationFilter) string {
	filter := "substringof(" + quote(datastreamName) + ",name)" +
		" and Thing/properties/status eq 'online'"
	if station.LocationName != "" {
		filter += " and Thing/Locations/name eq " + quote(station.LocationName)
	}
	return apiVersion + "/Datastreams?" + encodeQuery([]queryParam{
		{"$top", "1"},
		{"$expand", "Observations($orderby=phenomenonTime desc;" +
			"$filter=day(now()) sub day(phenomenonTime) le 1 and month(now()) eq month(phenomenonTime))"},
		{"$filter", filter},
	})
}
