package property

import (
	"github.com/cdx-io/cdx/internal/item"
)

// SetPropertyRequest describes one set-property action triggered by an
// event.
type SetPropertyRequest struct {
	Name string
	// Value is the raw value; the literal "now" resolves to the event's
	// timestamp in ISO-8601 UTC.
	Value any
	// ValueInteger is honored over Value when set.
	ValueInteger *int
	// TargetSession directs the write at the session instead of the
	// profile.
	TargetSession bool
	Strategy      string
}

// SetPropertyAction applies the request against the event's profile or
// session and reports whether anything changed. Anonymous profiles never
// mutate: unless the session is targeted, the action is a no-op.
func SetPropertyAction(event *item.Event, profile *item.Profile, session *item.Session, req SetPropertyRequest) (bool, error) {
	value := req.Value
	if req.ValueInteger != nil {
		value = *req.ValueInteger
	} else if s, ok := value.(string); ok && s == "now" {
		value = item.FormatTime(event.TimeStamp())
	}

	if req.TargetSession {
		if session == nil {
			return false, nil
		}
		if session.Properties == nil {
			session.Properties = map[string]any{}
		}
		return SetProperty(session.Properties, req.Name, value, req.Strategy)
	}

	if profile == nil || profile.Anonymous {
		return false, nil
	}
	if profile.Properties == nil {
		profile.Properties = map[string]any{}
	}
	return SetProperty(profile.Properties, req.Name, value, req.Strategy)
}
