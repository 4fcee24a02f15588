package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/sanitize"
)

// ParseJSON reads a PostgreSQL EXPLAIN (FORMAT JSON) document, repairs child
// timings and produces an Explain structure.
func ParseJSON(r io.Reader) (*model.Explain, error) {
	entry, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if plan, ok := entry["Plan"].(map[string]any); ok {
		sanitize.Plan(plan)
	}
	return Build(entry)
}

// Decode reads the first EXPLAIN entry without interpreting it.
func Decode(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyPlan
		}
		return nil, fmt.Errorf("decode explain json: %w", err)
	}

	entry, err := pickFirstEntry(payload)
	if err != nil {
		return nil, err
	}
	if entry["Plan"] == nil {
		return nil, ErrEmptyPlan
	}
	return entry, nil
}

// Build constructs the plan tree and top-level metadata from a decoded entry.
func Build(entry map[string]any) (*model.Explain, error) {
	planMapVal, ok := entry["Plan"]
	if !ok || planMapVal == nil {
		return nil, ErrEmptyPlan
	}

	planMap, err := asObject(planMapVal)
	if err != nil {
		return nil, fmt.Errorf("explain json: invalid Plan node: %w", err)
	}

	root, err := BuildNode(planMap, "0", nil, nil)
	if err != nil {
		return nil, err
	}

	explain := &model.Explain{
		Plan:          root,
		PlanningTime:  asOptionalFloat(entry["Planning Time"]),
		ExecutionTime: asOptionalFloat(entry["Execution Time"]),
		Settings:      parseSettings(entry["Settings"]),
		Extra:         map[string]any{},
	}

	for k, v := range entry {
		if k == "Plan" || k == "Planning Time" || k == "Execution Time" || k == "Settings" {
			continue
		}
		explain.Extra[k] = v
	}

	return explain, nil
}

func pickFirstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case nil:
		return nil, ErrEmptyPlan
	case []any:
		if len(v) == 0 || v[0] == nil {
			return nil, ErrEmptyPlan
		}
		obj, err := asObject(v[0])
		if err != nil {
			return nil, fmt.Errorf("explain json: invalid entry: %w", err)
		}
		return obj, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("explain json: unexpected top-level type %T", payload)
	}
}

// BuildNode constructs a plan node and its subtree. The plan totals are nil for
// the tree root, which seeds them from its own cumulative cost and time.
func BuildNode(data map[string]any, path string, planTotalCost, planTotalTime *float64) (*model.PlanNode, error) {
	nodeType := asString(data["Node Type"])
	if nodeType == "" {
		return nil, &MalformedPlanError{Path: path}
	}

	node := &model.PlanNode{
		ID:                  path,
		NodeType:            nodeType,
		RelationName:        asString(data["Relation Name"]),
		Schema:              asString(data["Schema"]),
		Alias:               asString(data["Alias"]),
		ParentRelationship:  asString(data["Parent Relationship"]),
		ScanDirection:       asString(data["Scan Direction"]),
		IndexName:           asString(data["Index Name"]),
		IndexCond:           asString(data["Index Cond"]),
		Filter:              asString(data["Filter"]),
		JoinType:            asString(data["Join Type"]),
		JoinFilter:          asString(data["Join Filter"]),
		HashCond:            asString(data["Hash Cond"]),
		MergeCond:           asString(data["Merge Cond"]),
		HashBuckets:         asFloat(data["Hash Buckets"]),
		SortKey:             asStringSlice(data["Sort Key"]),
		SortMethod:          asString(data["Sort Method"]),
		SortSpaceType:       asString(data["Sort Space Type"]),
		ParallelAware:       asBool(data["Parallel Aware"]),
		InnerUnique:         asBool(data["Inner Unique"]),
		SingleCopy:          asBool(data["Single Copy"]),
		WorkersPlanned:      asFloat(data["Workers Planned"]),
		Workers:             asObjects(data["Workers"]),
		Output:              asStringSlice(data["Output"]),
		StartupCost:         asFloat(data["Startup Cost"]),
		TotalCost:           asFloat(data["Total Cost"]),
		PlanRows:            asFloat(data["Plan Rows"]),
		PlanWidth:           asFloat(data["Plan Width"]),
		ActualStartupTime:   asFloat(data["Actual Startup Time"]),
		ActualTotalTime:     asFloat(data["Actual Total Time"]),
		ActualRows:          asFloat(data["Actual Rows"]),
		ActualLoops:         asFloat(data["Actual Loops"]),
		RowsRemovedByFilter: asFloat(data["Rows Removed by Filter"]),
		Extra:               map[string]any{},
	}

	if planTotalCost == nil && planTotalTime == nil {
		planTotalCost = &node.TotalCost
		planTotalTime = &node.ActualTotalTime
	}
	if planTotalCost != nil {
		node.PlanTotalCost = *planTotalCost
	}
	if planTotalTime != nil {
		node.PlanTotalTime = *planTotalTime
	}

	for i, childVal := range asSlice(data["Plans"]) {
		childPath := fmt.Sprintf("%s.%d", path, i)
		childMap, err := asObject(childVal)
		if err != nil {
			return nil, fmt.Errorf("parse child plan (%s): %w", childPath, err)
		}

		child, err := BuildNode(childMap, childPath, planTotalCost, planTotalTime)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	for k, v := range data {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		node.Extra[k] = v
	}

	return node, nil
}

var knownKeys = map[string]struct{}{
	"Node Type":              {},
	"Relation Name":          {},
	"Schema":                 {},
	"Alias":                  {},
	"Parent Relationship":    {},
	"Scan Direction":         {},
	"Index Name":             {},
	"Index Cond":             {},
	"Filter":                 {},
	"Join Type":              {},
	"Join Filter":            {},
	"Hash Cond":              {},
	"Merge Cond":             {},
	"Hash Buckets":           {},
	"Sort Key":               {},
	"Sort Method":            {},
	"Sort Space Type":        {},
	"Parallel Aware":         {},
	"Inner Unique":           {},
	"Single Copy":            {},
	"Workers Planned":        {},
	"Workers":                {},
	"Output":                 {},
	"Startup Cost":           {},
	"Total Cost":             {},
	"Plan Rows":              {},
	"Plan Width":             {},
	"Actual Startup Time":    {},
	"Actual Total Time":      {},
	"Actual Rows":            {},
	"Actual Loops":           {},
	"Rows Removed by Filter": {},
	"Plans":                  {},
}

func parseSettings(val any) map[string]string {
	if val == nil {
		return nil
	}

	result := map[string]string{}
	switch typed := val.(type) {
	case []any:
		for _, entry := range typed {
			item, err := asObject(entry)
			if err != nil {
				continue
			}
			name := asString(item["Name"])
			if name == "" {
				name = asString(item["name"])
			}
			value := asString(item["Setting"])
			if value == "" {
				value = asString(item["value"])
			}
			if name != "" && value != "" {
				result[name] = value
			}
		}
	case map[string]any:
		for k, v := range typed {
			result[k] = asString(v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func asObject(val any) (map[string]any, error) {
	if val == nil {
		return nil, errors.New("nil object")
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", val)
	}
	return obj, nil
}

func asObjects(val any) []map[string]any {
	var out []map[string]any
	for _, item := range asSlice(val) {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func asSlice(val any) []any {
	v, _ := val.([]any)
	return v
}

func asString(val any) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asBool(val any) bool {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func asStringSlice(val any) []string {
	if val == nil {
		return nil
	}
	switch v := val.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, asString(item))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}

func asOptionalFloat(val any) *float64 {
	if val == nil {
		return nil
	}
	f := asFloat(val)
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func asFloat(val any) float64 {
	if val == nil {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		if v == "" {
			return 0
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
