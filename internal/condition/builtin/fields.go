// Package builtin holds the evaluator and query-builder handlers for the
// primitive condition types. Every handler exists in both forms with
// agreeing semantics.
package builtin

import "strings"

// Condition type ids handled by this package.
const (
	TypeProperty    = "propertyCondition"
	TypeBoolean     = "booleanCondition"
	TypeNot         = "notCondition"
	TypeMatchAll    = "matchAllCondition"
	TypeIDs         = "idsCondition"
	TypePastEvent   = "pastEventCondition"
	TypeEventDate   = "eventDateCondition"
	TypeGeoDistance = "geoDistanceCondition"
)

// FieldAlias maps a dotted property path to its schema attribute alias.
// Index schemas alias "$.properties.twitterId" as "properties_twitterId";
// the query side must agree.
func FieldAlias(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}

// DateAlias is the companion numeric attribute carrying a date field's
// epoch milliseconds.
func DateAlias(path string) string {
	return FieldAlias(path) + "__ms"
}

// GeoAlias is the companion attribute carrying a location field's
// "lon,lat" geo value.
func GeoAlias(path string) string {
	return FieldAlias(path) + "__geo"
}
