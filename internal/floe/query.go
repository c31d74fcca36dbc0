package floe

import (
	"encoding/json"
	"fmt"
)

// Filter selects documents for List and BeginScroll. At most one time window
// may be set; the engine evaluates windows against its own clock.
type Filter struct {
	// Field and Value form an optional full-text match predicate.
	Field string
	Value interface{}

	LastDay   bool // 24 hours
	LastWeek  bool // 7 days
	LastMonth bool // 31 days
	LastHours int
	LastDays  int
}

// validate rejects windows that cannot be expressed as date math.
func (f Filter) validate() error {
	if f.LastHours < 0 || f.LastDays < 0 {
		return configError("time window must not be negative (last hours %d, last days %d)", f.LastHours, f.LastDays)
	}
	return nil
}

// timeWindow returns the date-math lower bound of the requested window.
// ok is false when more than one window is requested.
func (f Filter) timeWindow() (lower string, ok bool) {
	var windows []string
	if f.LastDay {
		windows = append(windows, "now-24h")
	}
	if f.LastWeek {
		windows = append(windows, "now-7d")
	}
	if f.LastMonth {
		windows = append(windows, "now-31d")
	}
	if f.LastHours > 0 {
		windows = append(windows, fmt.Sprintf("now-%dh", f.LastHours))
	}
	if f.LastDays > 0 {
		windows = append(windows, fmt.Sprintf("now-%dd", f.LastDays))
	}
	switch len(windows) {
	case 0:
		return "", true
	case 1:
		return windows[0], true
	default:
		return "", false
	}
}

func matchClause(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"match": map[string]interface{}{field: value},
	}
}

func rangeClause(field, lower string) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			field: map[string]interface{}{"gte": lower},
		},
	}
}

// buildQuery renders the query clause for f. ok is false when f requests
// conflicting time windows.
func buildQuery(f Filter, timestampField string) (query map[string]interface{}, ok bool) {
	lower, ok := f.timeWindow()
	if !ok {
		return nil, false
	}
	var must, filter []interface{}
	if f.Field != "" {
		must = append(must, matchClause(f.Field, f.Value))
	}
	if lower != "" {
		filter = append(filter, rangeClause(timestampField, lower))
	}
	switch {
	case must == nil && filter == nil:
		return map[string]interface{}{"match_all": map[string]interface{}{}}, true
	case filter == nil:
		return must[0].(map[string]interface{}), true
	case must == nil:
		return filter[0].(map[string]interface{}), true
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{"must": must, "filter": filter},
	}, true
}

func scrollBody(query map[string]interface{}, window int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"size":  window,
		"sort":  []string{"_doc"},
		"query": query,
	})
}

func searchBody(query map[string]interface{}, size int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"size":  size,
		"query": query,
	})
}
