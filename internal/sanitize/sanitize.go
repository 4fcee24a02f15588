// Package sanitize repairs timing anomalies in raw EXPLAIN documents before
// they are turned into plan trees.
//
// Looped nodes and subplans can report an Actual Total Time larger than their
// parent's. Left alone, that makes the parent's exclusive time negative.
package sanitize

import (
	"encoding/json"
	"strconv"
)

// Epsilon is subtracted from the parent timings when a child is clamped.
const Epsilon = 0.01

const (
	keyTotalTime   = "Actual Total Time"
	keyStartupTime = "Actual Startup Time"
	keyPlans       = "Plans"
)

// Plan walks a raw plan object top-down and clamps every child whose actual
// total time exceeds its parent's. It returns the number of clamped nodes.
func Plan(plan map[string]any) int {
	if plan == nil {
		return 0
	}
	total, ok := number(plan[keyTotalTime])
	if !ok {
		return 0
	}
	startup, _ := number(plan[keyStartupTime])

	clamped := 0
	children, _ := plan[keyPlans].([]any)
	for _, raw := range children {
		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if childTotal, ok := number(child[keyTotalTime]); ok && childTotal > total {
			child[keyTotalTime] = total - Epsilon
			child[keyStartupTime] = startup - Epsilon
			clamped++
		}
		clamped += Plan(child)
	}
	return clamped
}

func number(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
