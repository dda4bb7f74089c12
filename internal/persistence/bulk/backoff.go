package bulk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Backoff defaults when the policy string names "exponential" with no
// arguments.
const (
	defaultBackoffDelay   = 50 * time.Millisecond
	defaultBackoffRetries = 8
)

// Backoff is a parsed batch retry policy.
type Backoff struct {
	Exponential  bool
	InitialDelay time.Duration
	MaxRetries   int
}

// NoBackoff disables batch retries.
var NoBackoff = Backoff{}

// ParseBackoff parses a backoff policy string. Accepted forms:
//
//	noBackoff
//	constant(delay, maxRetries)
//	exponential
//	exponential(delay, maxRetries)
//
// delay accepts Go duration syntax plus a bare millisecond count.
func ParseBackoff(policy string) (Backoff, error) {
	s := strings.TrimSpace(policy)
	switch {
	case s == "" || s == "exponential":
		return Backoff{Exponential: true, InitialDelay: defaultBackoffDelay, MaxRetries: defaultBackoffRetries}, nil
	case s == "noBackoff":
		return NoBackoff, nil
	}

	name, rest, found := strings.Cut(s, "(")
	if !found || !strings.HasSuffix(rest, ")") {
		return Backoff{}, fmt.Errorf("unparseable backoff policy %q", policy)
	}
	delay, retries, err := parseBackoffArgs(strings.TrimSuffix(rest, ")"))
	if err != nil {
		return Backoff{}, fmt.Errorf("backoff policy %q: %w", policy, err)
	}

	switch name {
	case "constant":
		return Backoff{InitialDelay: delay, MaxRetries: retries}, nil
	case "exponential":
		return Backoff{Exponential: true, InitialDelay: delay, MaxRetries: retries}, nil
	}
	return Backoff{}, fmt.Errorf("unknown backoff policy %q", name)
}

func parseBackoffArgs(args string) (time.Duration, int, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected (delay, maxRetries)")
	}
	delayStr := strings.TrimSpace(parts[0])
	delay, err := time.ParseDuration(delayStr)
	if err != nil {
		ms, msErr := strconv.Atoi(delayStr)
		if msErr != nil {
			return 0, 0, fmt.Errorf("unparseable delay %q", delayStr)
		}
		delay = time.Duration(ms) * time.Millisecond
	}
	retries, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || retries < 0 {
		return 0, 0, fmt.Errorf("unparseable maxRetries %q", parts[1])
	}
	return delay, retries, nil
}

// Delay returns the wait before retry attempt (0-based), or false when the
// policy allows no further retries.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt >= b.MaxRetries {
		return 0, false
	}
	if !b.Exponential {
		return b.InitialDelay, true
	}
	return b.InitialDelay << attempt, true
}
