package insight

import (
	"fmt"
	"math"
	"strings"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/model"
)

// Severity expresses the urgency of an insight message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Labels of the per-node and plan-wide insights.
const (
	LabelFilter        = "Filter Optimisation"
	LabelEstimation    = "Row Estimation Quality"
	LabelTimeShare     = "Percentage Of Time Spent On Operation"
	LabelRawSpeed      = "Raw Speed"
	LabelEstimatedCost = "Estimated cost"
	LabelSortIndex     = "Potential sort index"

	LabelSlowest       = "Slowest Operation"
	LabelCostliest     = "Costliest Operation"
	LabelPlanningTime  = "Planning Time"
	LabelExecutionTime = "Plan Execution Time"
)

// Insight is an actionable observation about a node or a plan.
type Insight struct {
	Label    string
	Text     string
	Severity Severity
	Anchor   string
}

// Insights keeps observations in rule order.
type Insights []Insight

// Get returns the insight stored under label.
func (in Insights) Get(label string) (Insight, bool) {
	for _, i := range in {
		if i.Label == label {
			return i, true
		}
	}
	return Insight{}, false
}

// Has reports whether an insight with label was produced.
func (in Insights) Has(label string) bool {
	_, ok := in.Get(label)
	return ok
}

// ForNode evaluates every per-node rule independently. The subtree is
// attributed first when needed.
func ForNode(node *model.PlanNode, cfg config.InsightConfig) Insights {
	if node == nil {
		return nil
	}
	if !node.Attributed() {
		analyzer.Attribute(node)
	}

	anchor := AnchorID(node)
	var out Insights
	add := func(label, text string, severity Severity) {
		out = append(out, Insight{Label: label, Text: text, Severity: severity, Anchor: anchor})
	}

	if text, ok := filterInsight(node, cfg); ok {
		add(LabelFilter, text, SeverityWarning)
	}

	text, severity := estimationInsight(node, cfg)
	add(LabelEstimation, text, severity)

	add(LabelTimeShare, fmt.Sprintf("%.2f%%", analyzer.TimeShare(node)*100), SeverityInfo)

	switch t := node.ActualOpCost; {
	case t >= cfg.VerySlowMs:
		add(LabelRawSpeed, fmt.Sprintf("%.2fms.\n\nOperation is very slow.", t), SeverityCritical)
	case t > cfg.SlowMs:
		add(LabelRawSpeed, fmt.Sprintf("%.2fms.\n\nOperation is slow.", t), SeverityWarning)
	}

	switch c := node.OpCost; {
	case c >= cfg.VeryHighCost:
		add(LabelEstimatedCost, fmt.Sprintf("%.2f.\n\nEstimated cost of operation is very high.", c), SeverityCritical)
	case c > cfg.HighCost:
		add(LabelEstimatedCost, fmt.Sprintf("%.2f.\n\nEstimated cost of operation is high.", c), SeverityWarning)
	}

	if sortIndexCandidate(node) {
		add(LabelSortIndex, "The sort is by a single column, or by several columns of the same table.\n"+
			"An index with the desired order may avoid the sort entirely.", SeverityInfo)
	}

	return out
}

// ForPlan summarises the slowest and costliest operators and the plan timings.
// It is empty when the summary names no operator.
func ForPlan(summary *model.Summary) Insights {
	if summary == nil || summary.Costliest == nil || summary.Slowest == nil {
		return nil
	}
	return Insights{
		{
			Label:    LabelSlowest,
			Text:     fmt.Sprintf("%s took %.2fms.", summary.Slowest.NodeType, summary.Slowest.ActualOpCost),
			Severity: SeverityInfo,
			Anchor:   AnchorID(summary.Slowest),
		},
		{
			Label:    LabelCostliest,
			Text:     fmt.Sprintf("%s was estimated at a cost of %.2f.", summary.Costliest.NodeType, summary.Costliest.OpCost),
			Severity: SeverityInfo,
			Anchor:   AnchorID(summary.Costliest),
		},
		{Label: LabelPlanningTime, Text: summary.PlanningTime + "ms", Severity: SeverityInfo},
		{Label: LabelExecutionTime, Text: summary.ExecutionTime + "ms", Severity: SeverityInfo},
	}
}

// Hotspot describes the node with the largest exclusive time share, if any.
func Hotspot(analysis *analyzer.PlanAnalysis) *Insight {
	if analysis == nil || len(analysis.HotNodes) == 0 {
		return nil
	}
	hot := analysis.HotNodes[0]
	share := analyzer.TimeShare(hot)
	text := fmt.Sprintf("Hot spot: %s self %.2f ms (%.1f%%)", CompactLabel(hot), hot.ActualOpCost, share*100)
	if hot.NodeType == model.KindSeqScan && hot.Filter != "" {
		text += ", consider adding an index or tightening the filter"
	}
	severity := SeverityInfo
	switch {
	case share >= 0.5:
		severity = SeverityCritical
	case share >= 0.25:
		severity = SeverityWarning
	}
	return &Insight{Label: "Hot spot", Text: text, Severity: severity, Anchor: AnchorID(hot)}
}

func filterInsight(node *model.PlanNode, cfg config.InsightConfig) (string, bool) {
	if !node.IsScan() || node.Filter == "" {
		return "", false
	}
	total := node.ActualRows + node.RowsRemovedByFilter
	if total == 0 {
		return "", false
	}
	removed := node.RowsRemovedByFilter / total * 100
	if removed <= cfg.FilterRemovedPercent {
		return "", false
	}
	switch node.NodeType {
	case model.KindSeqScan:
		return fmt.Sprintf("%.2f%% of rows removed by filter condition.\n\n"+
			"Consider building an index on the filter condition as an index scan might perform better.", removed), true
	case model.KindIndexScan:
		return fmt.Sprintf("%.2f%% of rows removed by filter condition.\n\n"+
			"Consider building indexes on the attributes in the filter condition as an index only scan might perform better.", removed), true
	default:
		return "", false
	}
}

// estimationInsight buckets the relative estimation error. The bucket names
// read inverted on purpose: a small error is reported as "Poor".
func estimationInsight(node *model.PlanNode, cfg config.InsightConfig) (string, Severity) {
	relErr := math.Abs(node.PlanRows-node.ActualRows) / math.Max(1, node.ActualRows)
	switch {
	case relErr < cfg.EstimateDecentError:
		return "Poor row estimation accuracy.", SeverityWarning
	case relErr < cfg.EstimateGoodError:
		return "Decent row estimation accuracy.", SeverityInfo
	default:
		return "Good row estimation accuracy.", SeverityInfo
	}
}

func sortIndexCandidate(node *model.PlanNode) bool {
	if node.NodeType != model.KindSort || len(node.SortKey) == 0 {
		return false
	}
	table := qualifier(node.SortKey[0])
	for _, key := range node.SortKey[1:] {
		if qualifier(key) != table {
			return false
		}
	}
	return true
}

func qualifier(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

// NodeLabel builds a descriptive label for a plan node.
func NodeLabel(node *model.PlanNode) string {
	if node == nil {
		return ""
	}
	label := node.NodeType
	if node.RelationName != "" {
		label = fmt.Sprintf("%s %s", label, node.RelationName)
		if node.Alias != "" && node.Alias != node.RelationName {
			label = fmt.Sprintf("%s (%s)", label, node.Alias)
		}
	} else if node.Alias != "" {
		label = fmt.Sprintf("%s (%s)", label, node.Alias)
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *model.PlanNode) string {
	label := NodeLabel(node)
	if len(label) > 60 {
		return label[:57] + "..."
	}
	return label
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AnchorID returns a stable HTML anchor for the node, unique within a plan.
func AnchorID(node *model.PlanNode) string {
	if node == nil {
		return ""
	}
	label := strings.ToLower(NodeLabel(node))
	label = strings.NewReplacer(" ", "-", "/", "-", "\\", "-", "(", "", ")", "", ",", "").Replace(label)
	label = strings.ReplaceAll(label, "--", "-")
	if node.ID != "" {
		label = "node-" + strings.ReplaceAll(node.ID, ".", "-") + "-" + label
	}
	return label
}
