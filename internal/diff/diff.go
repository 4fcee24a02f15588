package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/model"
)

// Category names, in report order.
const (
	CategoryScans = "Scans"
	CategoryJoins = "Joins"
)

// Report lists the operators present in both plans, aligned by relation name
// for scans and by join predicate for joins.
type Report struct {
	Summary    SummaryDiff `json:"summary"`
	Categories []Category  `json:"categories"`
}

// Category groups the records of one operator family.
type Category struct {
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// SummaryDiff covers plan-wide timings as displayed by the analyzer ("NA"
// when absent).
type SummaryDiff struct {
	OldPlanningTime  string `json:"old_planning_time"`
	NewPlanningTime  string `json:"new_planning_time"`
	OldExecutionTime string `json:"old_execution_time"`
	NewExecutionTime string `json:"new_execution_time"`
	// PercentExecution is nil unless both plans report an execution time.
	PercentExecution *float64 `json:"percent_execution,omitempty"`
}

// Record compares one aligned pair of operators.
type Record struct {
	Category    string  `json:"category"`
	Key         string  `json:"key"`
	OldKind     string  `json:"old_kind"`
	NewKind     string  `json:"new_kind"`
	OldTimeMs   float64 `json:"old_time_ms"`
	NewTimeMs   float64 `json:"new_time_ms"`
	OldFilter   string  `json:"old_filter,omitempty"`
	NewFilter   string  `json:"new_filter,omitempty"`
	Description string  `json:"description"`
}

// KindChanged reports whether the planner picked a different operator.
func (r Record) KindChanged() bool {
	return r.OldKind != r.NewKind
}

// Compare aligns the scans and joins of two analysed plans. Operators whose
// key appears in only one plan are left out.
func Compare(oldPlan, newPlan *analyzer.PlanAnalysis) (*Report, error) {
	if oldPlan == nil || oldPlan.Root == nil {
		return nil, fmt.Errorf("diff: old analysis missing")
	}
	if newPlan == nil || newPlan.Root == nil {
		return nil, fmt.Errorf("diff: new analysis missing")
	}

	report := &Report{
		Summary: summarize(oldPlan, newPlan),
		Categories: []Category{
			{Name: CategoryScans, Records: compareScans(oldPlan.Root, newPlan.Root)},
			{Name: CategoryJoins, Records: compareJoins(oldPlan.Root, newPlan.Root)},
		},
	}
	return report, nil
}

// Category returns the records of the named category.
func (r *Report) Category(name string) []Record {
	for _, c := range r.Categories {
		if c.Name == name {
			return c.Records
		}
	}
	return nil
}

// Empty reports whether no operator could be aligned.
func (r *Report) Empty() bool {
	for _, c := range r.Categories {
		if len(c.Records) > 0 {
			return false
		}
	}
	return true
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# planwise diff\n\n")
	b.WriteString("## Summary\n")
	_, _ = fmt.Fprintf(&b, "- Execution: %s ms → %s ms", r.Summary.OldExecutionTime, r.Summary.NewExecutionTime)
	if pct := r.Summary.PercentExecution; pct != nil {
		_, _ = fmt.Fprintf(&b, " (%+.1f%%)", *pct)
	}
	b.WriteString("\n")
	_, _ = fmt.Fprintf(&b, "- Planning: %s ms → %s ms\n", r.Summary.OldPlanningTime, r.Summary.NewPlanningTime)

	for _, c := range r.Categories {
		_, _ = fmt.Fprintf(&b, "\n### %s\n", c.Name)
		if len(c.Records) == 0 {
			b.WriteString("- No matching operators in both plans\n")
			continue
		}
		b.WriteString("| Key | Old | New | Old time (ms) | New time (ms) |\n")
		b.WriteString("|---|---|---|---:|---:|\n")
		for _, rec := range c.Records {
			_, _ = fmt.Fprintf(&b, "| %s | %s | %s | %.2f | %.2f |\n",
				escapeCell(rec.Key), rec.OldKind, rec.NewKind, rec.OldTimeMs, rec.NewTimeMs)
		}
		b.WriteString("\n")
		for _, rec := range c.Records {
			_, _ = fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(rec.Description, "\n", " "))
		}
	}
	return b.String()
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func compareScans(oldRoot, newRoot *model.PlanNode) []Record {
	oldScans := collect(oldRoot, scanKey)
	newScans := collect(newRoot, scanKey)

	var out []Record
	for _, key := range oldScans.order {
		o := oldScans.nodes[key]
		n, ok := newScans.nodes[key]
		if !ok {
			continue
		}
		rec := newRecord(CategoryScans, key, o, n)
		rec.OldFilter = o.Filter
		rec.NewFilter = n.Filter
		rec.Description = describeScan(key, o, n)
		out = append(out, rec)
	}
	return out
}

func compareJoins(oldRoot, newRoot *model.PlanNode) []Record {
	oldJoins := collect(oldRoot, joinKey)
	newJoins := collect(newRoot, joinKey)

	var out []Record
	for _, key := range oldJoins.order {
		o := oldJoins.nodes[key]
		n, ok := newJoins.nodes[key]
		if !ok {
			continue
		}
		rec := newRecord(CategoryJoins, key, o, n)
		if rec.KindChanged() {
			rec.Description = fmt.Sprintf("In old plan, a %s with join condition %s was done. "+
				"In the new plan, a %s with join condition %s was done instead.", o.NodeType, key, n.NodeType, key)
		} else {
			rec.Description = fmt.Sprintf("In both plans, a %s was performed with join condition %s.", o.NodeType, key)
		}
		out = append(out, rec)
	}
	return out
}

func describeScan(key string, o, n *model.PlanNode) string {
	if o.NodeType != n.NodeType {
		return fmt.Sprintf("In old plan, a %s on %s was done%s. In the new plan, a %s on %s was done%s instead.",
			o.NodeType, key, withFilter(o.Filter), n.NodeType, key, withFilter(n.Filter))
	}
	desc := fmt.Sprintf("In both plans, a %s scan was performed on %s.", o.NodeType, key)
	switch {
	case o.Filter != n.Filter:
		desc += fmt.Sprintf("\nHowever, the old plan scan was performed with a filtering condition of %s, "+
			"while the new plan scan was performed with a filtering condition of %s", orNone(o.Filter), orNone(n.Filter))
	case o.Filter != "":
		desc += "\nBoth scans were also performed with the same filter condition."
	}
	return desc
}

func withFilter(filter string) string {
	if filter == "" {
		return ""
	}
	return " with filter: " + filter
}

func orNone(filter string) string {
	if filter == "" {
		return "none"
	}
	return filter
}

func newRecord(category, key string, o, n *model.PlanNode) Record {
	return Record{
		Category:  category,
		Key:       key,
		OldKind:   o.NodeType,
		NewKind:   n.NodeType,
		OldTimeMs: o.ActualOpCost,
		NewTimeMs: n.ActualOpCost,
	}
}

// indexed keeps the last node seen per key and the order in which keys first
// appeared.
type indexed struct {
	order []string
	nodes map[string]*model.PlanNode
}

// collect walks the tree breadth-first and indexes every node keyFn accepts.
func collect(root *model.PlanNode, keyFn func(*model.PlanNode) string) indexed {
	idx := indexed{nodes: map[string]*model.PlanNode{}}
	queue := []*model.PlanNode{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if key := keyFn(node); key != "" {
			if _, seen := idx.nodes[key]; !seen {
				idx.order = append(idx.order, key)
			}
			idx.nodes[key] = node
		}
		queue = append(queue, node.Children...)
	}
	return idx
}

func scanKey(node *model.PlanNode) string {
	if !node.IsScan() {
		return ""
	}
	return node.RelationName
}

func joinKey(node *model.PlanNode) string {
	if !node.IsJoin() {
		return ""
	}
	return node.JoinCondition()
}

func summarize(oldPlan, newPlan *analyzer.PlanAnalysis) SummaryDiff {
	out := SummaryDiff{
		OldPlanningTime:  analyzer.NotAvailable,
		NewPlanningTime:  analyzer.NotAvailable,
		OldExecutionTime: analyzer.NotAvailable,
		NewExecutionTime: analyzer.NotAvailable,
	}
	if oldPlan.Summary != nil {
		out.OldPlanningTime = oldPlan.Summary.PlanningTime
		out.OldExecutionTime = oldPlan.Summary.ExecutionTime
	}
	if newPlan.Summary != nil {
		out.NewPlanningTime = newPlan.Summary.PlanningTime
		out.NewExecutionTime = newPlan.Summary.ExecutionTime
	}
	before, after := oldPlan.Explain, newPlan.Explain
	if before != nil && after != nil && before.ExecutionTime != nil && after.ExecutionTime != nil {
		pct := percentChange(*before.ExecutionTime, *after.ExecutionTime)
		out.PercentExecution = &pct
	}
	return out
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
