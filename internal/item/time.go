package item

import (
	"fmt"
	"strings"
	"time"
)

// isoMillis is the wire format for item dates: ISO-8601 with millisecond
// precision in UTC.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Time is a time.Time that serializes as ISO-8601 milliseconds UTC.
type Time struct {
	time.Time
}

// NewTime wraps t, truncated to millisecond precision in UTC.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(isoMillis) + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTime accepts the wire format plus the usual RFC 3339 variants.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{isoMillis, time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// FormatTime renders t in the wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
