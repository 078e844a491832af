// Package job defines the unit of scheduled crawl work: the request being
// fetched, the handler that consumes the page, the attempt counter, and the
// open attribute map whose entries evolve when a job is retried.
package job

import (
	"fmt"
	"strings"
)

// Priority orders jobs from most to least urgent. Smaller values are more urgent.
type Priority int

// Supported priorities, most urgent first.
const (
	Highest Priority = iota
	High
	Normal
	Low
	Lowest
)

// Defaults applied when a caller does not pick a priority or a floor.
const (
	DefaultPriority = Normal
	DefaultFloor    = Low
)

var priorityNames = [...]string{"HIGHEST", "HIGH", "NORMAL", "LOW", "LOWEST"}

// String returns the upper-case name of the priority.
func (p Priority) String() string {
	if p < Highest || p > Lowest {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MoreUrgentThan reports whether p should be served before other.
func (p Priority) MoreUrgentThan(other Priority) bool {
	return p < other
}

// Downgrade moves p one step toward floor. A priority already at or below the
// floor is returned unchanged, so repeated calls converge on floor.
func (p Priority) Downgrade(floor Priority) Priority {
	if !p.MoreUrgentThan(floor) || p >= Lowest {
		return p
	}
	return p + 1
}

// ParsePriority maps a case-insensitive name to a Priority.
func ParsePriority(raw string) (Priority, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", raw)
}
