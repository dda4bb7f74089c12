package redis

import (
	"context"
	"strconv"
	"strings"

	"github.com/cdx-io/cdx/internal/db"
)

// NodesStats inspects every configured node via INFO and reports role,
// uptime and CPU load for cluster inventories.
func (s *Store) NodesStats(ctx context.Context) ([]db.NodeStats, error) {
	raw, err := s.do(ctx, s.b().Info().Build()).ToString()
	if err != nil {
		return nil, &db.Error{Op: db.OpInfo, Err: err}
	}

	fields := parseInfoFields(raw)

	stats := db.NodeStats{
		Master: fields["role"] == "master",
		Data:   true,
	}
	if len(s.addrs) > 0 {
		stats.Addr = s.addrs[0]
		if host, _, ok := strings.Cut(s.addrs[0], ":"); ok {
			stats.HostName = host
		}
	}
	if v, err := strconv.ParseInt(fields["uptime_in_seconds"], 10, 64); err == nil {
		stats.UptimeSeconds = v
	}
	if v, err := strconv.ParseFloat(fields["used_cpu_sys"], 64); err == nil {
		stats.CPUPercent = v
	}
	if v, err := strconv.ParseFloat(fields["instantaneous_ops_per_sec"], 64); err == nil {
		stats.LoadAverage = []float64{v}
	}

	return []db.NodeStats{stats}, nil
}

// parseInfoFields flattens an INFO reply into a key/value map, skipping
// section headers and blank lines.
func parseInfoFields(raw string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(raw, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			fields[name] = value
		}
	}
	return fields
}
