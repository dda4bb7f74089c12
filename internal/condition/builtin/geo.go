package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/item"
)

const earthRadiusKm = 6371.0

// EvalGeoDistance matches items whose location property lies within the
// configured distance of the center point.
func EvalGeoDistance(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	center, radiusKm, name, err := geoParams(c)
	if err != nil {
		return false, err
	}

	raw, found := item.Lookup(it, name)
	if !found {
		return false, nil
	}
	point, ok := coordOf(raw)
	if !ok {
		return false, nil
	}
	return haversineKm(center, point) <= radiusKm, nil
}

// BuildGeoDistance emits a geo radius clause on the location's companion
// geo attribute.
func BuildGeoDistance(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	center, radiusKm, name, err := geoParams(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("@%s:[%g %g %g km]", GeoAlias(name), center.X(), center.Y(), radiusKm), nil
}

// geoParams extracts center (lon/lat coord), radius in km and property name.
func geoParams(c *condition.Condition) (geom.Coord, float64, string, error) {
	name := c.StringParameter("propertyName")
	if name == "" {
		name = "location"
	}
	lat, okLat := c.FloatParameter("latitude")
	lon, okLon := c.FloatParameter("longitude")
	if !okLat || !okLon {
		return nil, 0, "", condition.Malformedf("geoDistanceCondition requires latitude and longitude")
	}
	radiusKm, err := parseDistanceKm(c.Parameters["distance"])
	if err != nil {
		return nil, 0, "", err
	}
	return geom.Coord{lon, lat}, radiusKm, name, nil
}

// parseDistanceKm accepts a bare number (km) or a suffixed string such as
// "10km" or "500m".
func parseDistanceKm(v any) (float64, error) {
	switch dist := v.(type) {
	case nil:
		return 0, condition.Malformedf("geoDistanceCondition requires distance")
	case string:
		s := strings.TrimSpace(strings.ToLower(dist))
		unit := 1.0
		switch {
		case strings.HasSuffix(s, "km"):
			s = strings.TrimSuffix(s, "km")
		case strings.HasSuffix(s, "mi"):
			s = strings.TrimSuffix(s, "mi")
			unit = 1.609344
		case strings.HasSuffix(s, "m"):
			s = strings.TrimSuffix(s, "m")
			unit = 0.001
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, condition.Malformedf("unparseable distance %q", dist)
		}
		return n * unit, nil
	default:
		if n, ok := asFloatValue(v); ok {
			return n, nil
		}
	}
	return 0, condition.Malformedf("unparseable distance %v", v)
}

// coordOf decodes a stored location value: {"lat": .., "lon": ..} object or
// a "lat,lon" string.
func coordOf(v any) (geom.Coord, bool) {
	switch loc := v.(type) {
	case map[string]any:
		lat, okLat := asFloatValue(loc["lat"])
		lon, okLon := asFloatValue(loc["lon"])
		if !okLat || !okLon {
			return nil, false
		}
		return geom.Coord{lon, lat}, true
	case string:
		lat, lon, ok := strings.Cut(loc, ",")
		if !ok {
			return nil, false
		}
		latF, errLat := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		lonF, errLon := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if errLat != nil || errLon != nil {
			return nil, false
		}
		return geom.Coord{lonF, latF}, true
	}
	return nil, false
}

// DistanceKm computes the great-circle distance in kilometers from a
// stored location value to a point. ok is false when the value does not
// decode as a location.
func DistanceKm(loc any, lat, lon float64) (float64, bool) {
	point, ok := coordOf(loc)
	if !ok {
		return 0, false
	}
	return haversineKm(geom.Coord{lon, lat}, point), true
}

// haversineKm is the great-circle distance between two lon/lat coords.
func haversineKm(a, b geom.Coord) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := (b.Y() - a.Y()) * math.Pi / 180
	dLon := (b.X() - a.X()) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
