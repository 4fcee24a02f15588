package analyzer

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/mickamy/planwise/internal/model"
)

// NotAvailable is displayed for plan-wide timings absent from the document.
const NotAvailable = "NA"

// PlanAnalysis contains derived metrics for a parsed plan.
type PlanAnalysis struct {
	Explain  *model.Explain
	Root     *model.PlanNode
	Summary  *model.Summary
	Nodes    []*model.PlanNode
	HotNodes []*model.PlanNode
}

// Analyze attributes exclusive cost and time to every node and derives the
// plan-wide summary, which is also attached to the Explain.
func Analyze(explain *model.Explain) (*PlanAnalysis, error) {
	if explain == nil || explain.Plan == nil {
		return nil, fmt.Errorf("analyze: missing plan")
	}

	root := explain.Plan
	Attribute(root)

	summary := Summarize(root)
	summary.PlanningTime = formatTiming(explain.PlanningTime)
	summary.ExecutionTime = formatTiming(explain.ExecutionTime)
	explain.Summary = summary

	nodes := flatten(root)

	return &PlanAnalysis{
		Explain:  explain,
		Root:     root,
		Summary:  summary,
		Nodes:    nodes,
		HotNodes: selectHotNodes(nodes),
	}, nil
}

// Attribute computes OpCost and ActualOpCost for the subtree in post-order and
// returns the node's own cumulative cost and time for the caller to subtract.
func Attribute(node *model.PlanNode) (float64, float64) {
	if node == nil {
		return 0, 0
	}
	opCost := node.TotalCost
	actualOpCost := node.ActualTotalTime
	for _, child := range node.Children {
		childCost, childTime := Attribute(child)
		opCost -= childCost
		actualOpCost -= childTime
	}
	node.MarkAttributed(opCost, actualOpCost)
	return node.TotalCost, node.ActualTotalTime
}

// Summarize picks the costliest and slowest operators of an attributed tree.
// Ties keep the operator that comes first in execution order.
func Summarize(root *model.PlanNode) *model.Summary {
	summary := &model.Summary{
		PlanningTime:  NotAvailable,
		ExecutionTime: NotAvailable,
	}
	var walk func(*model.PlanNode)
	walk = func(n *model.PlanNode) {
		for _, child := range n.Children {
			walk(child)
		}
		summary.NodeCount++
		if summary.Costliest == nil || n.OpCost > summary.Costliest.OpCost {
			summary.Costliest = n
		}
		if summary.Slowest == nil || n.ActualOpCost > summary.Slowest.ActualOpCost {
			summary.Slowest = n
		}
	}
	if root != nil {
		walk(root)
	}
	return summary
}

// TimeShare returns the fraction of the plan's total time spent in the node alone.
func TimeShare(node *model.PlanNode) float64 {
	if node == nil || node.PlanTotalTime == 0 {
		return 0
	}
	return node.ActualOpCost / node.PlanTotalTime
}

func formatTiming(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func flatten(root *model.PlanNode) []*model.PlanNode {
	var out []*model.PlanNode
	root.Walk(func(n *model.PlanNode) {
		out = append(out, n)
	})
	return out
}

func selectHotNodes(nodes []*model.PlanNode) []*model.PlanNode {
	if len(nodes) == 0 {
		return nil
	}

	candidates := make([]*model.PlanNode, 0, len(nodes))
	for _, n := range nodes {
		if TimeShare(n) > 0 {
			candidates = append(candidates, n)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return TimeShare(candidates[i]) > TimeShare(candidates[j])
	})

	limit := 5
	if len(candidates) < limit {
		limit = len(candidates)
	}
	cutoff := 0.10

	var out []*model.PlanNode
	for _, candidate := range candidates[:limit] {
		if TimeShare(candidate) < cutoff {
			break
		}
		out = append(out, candidate)
	}

	if len(out) == 0 && len(candidates) > 0 {
		out = candidates[:limit]
	}

	return out
}
