package score

import (
	"fmt"
	"strings"
)

// Metric is a per-span quantity written to a result file.
type Metric int

const (
	Surprisal Metric = iota + 1
)

var metricNames = map[Metric]struct{ id, display string }{
	Surprisal: {"surprisal", "Surprisal"},
}

func (m Metric) String() string {
	if n, ok := metricNames[m]; ok {
		return n.id
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// DisplayName is the metric's column header.
func (m Metric) DisplayName() string {
	if n, ok := metricNames[m]; ok {
		return n.display
	}
	return m.String()
}

func ParseMetric(s string) (Metric, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, n := range metricNames {
		if n.id == s {
			return m, true
		}
	}
	return 0, false
}

// ParseMetrics returns the recognised metrics in order without duplicates,
// and the names that were not recognised.
func ParseMetrics(names []string) (metrics []Metric, ignored []string) {
	seen := make(map[Metric]bool)
	for _, name := range names {
		m, ok := ParseMetric(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		if !seen[m] {
			seen[m] = true
			metrics = append(metrics, m)
		}
	}
	return metrics, ignored
}
