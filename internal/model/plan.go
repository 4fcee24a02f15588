package model

import "strings"

// Explain represents the root of a PostgreSQL execution plan.
type Explain struct {
	Plan *PlanNode
	// PlanningTime and ExecutionTime are nil when the document omits them.
	PlanningTime  *float64
	ExecutionTime *float64
	Settings      map[string]string
	// Extra carries additional top-level fields that we do not interpret yet.
	Extra map[string]any
	// Summary is attached by the analyzer after a full pass.
	Summary *Summary
}

// Summary holds plan-wide facts derived from an attributed tree.
type Summary struct {
	Costliest     *PlanNode
	Slowest       *PlanNode
	PlanningTime  string
	ExecutionTime string
	NodeCount     int
}

// PlanNode captures one operator in the execution plan tree.
type PlanNode struct {
	ID                  string
	NodeType            string
	RelationName        string
	Schema              string
	Alias               string
	ParentRelationship  string
	ScanDirection       string
	IndexName           string
	IndexCond           string
	Filter              string
	JoinType            string
	JoinFilter          string
	HashCond            string
	MergeCond           string
	HashBuckets         float64
	SortKey             []string
	SortMethod          string
	SortSpaceType       string
	ParallelAware       bool
	InnerUnique         bool
	SingleCopy          bool
	WorkersPlanned      float64
	Workers             []map[string]any
	Output              []string
	StartupCost         float64
	TotalCost           float64
	PlanRows            float64
	PlanWidth           float64
	ActualStartupTime   float64
	ActualTotalTime     float64
	ActualRows          float64
	ActualLoops         float64
	RowsRemovedByFilter float64
	Extra               map[string]any
	Children            []*PlanNode

	// PlanTotalCost and PlanTotalTime are the cumulative totals of the tree root.
	PlanTotalCost float64
	PlanTotalTime float64

	// OpCost and ActualOpCost are the exclusive estimated cost and actual time,
	// populated by analyzer.Attribute. They may be negative on noisy plans.
	OpCost       float64
	ActualOpCost float64
	attributed   bool
}

// MarkAttributed stores the exclusive metrics computed for the node.
func (n *PlanNode) MarkAttributed(opCost, actualOpCost float64) {
	n.OpCost = opCost
	n.ActualOpCost = actualOpCost
	n.attributed = true
}

// Attributed reports whether exclusive metrics have been computed.
func (n *PlanNode) Attributed() bool {
	return n.attributed
}

// IsScan reports whether the operator reads a relation or index.
func (n *PlanNode) IsScan() bool {
	return strings.Contains(strings.ToLower(n.NodeType), "scan")
}

// IsJoin reports whether the operator combines two inputs.
func (n *PlanNode) IsJoin() bool {
	return strings.Contains(strings.ToLower(n.NodeType), "join")
}

// JoinCondition returns the merge condition, falling back to the hash condition.
func (n *PlanNode) JoinCondition() string {
	if n.MergeCond != "" {
		return n.MergeCond
	}
	return n.HashCond
}

// QualifiedRelation renders schema.relation, with the alias appended when present.
func (n *PlanNode) QualifiedRelation() string {
	name := n.RelationName
	if n.Schema != "" {
		name = n.Schema + "." + name
	}
	if n.Alias != "" {
		name += " as " + n.Alias
	}
	return name
}

// Walk visits the subtree in pre-order.
func (n *PlanNode) Walk(fn func(*PlanNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
