package narrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mickamy/planwise/internal/model"
)

var builtin = map[string]ExplainFunc{
	model.KindGather:        explainGather,
	model.KindHashJoin:      explainHashJoin,
	model.KindSeqScan:       explainSeqScan,
	model.KindHash:          explainHash,
	model.KindMergeJoin:     explainMergeJoin,
	model.KindSort:          explainSort,
	model.KindNestedLoop:    explainNestedLoop,
	model.KindIndexOnlyScan: explainIndexOnlyScan,
	model.KindIndexScan:     explainIndexScan,
}

func explainGather(n *model.PlanNode) (string, Attributes) {
	return fmt.Sprintf("A Gather operation is performed on the output of %s workers.", num(n.WorkersPlanned)),
		Attributes{
			{"Description", "Gather combines the output of child nodes executed by parallel workers. " +
				"Unlike Gather Merge, it makes no guarantee about the order of the rows."},
		}
}

func explainHashJoin(n *model.PlanNode) (string, Attributes) {
	return fmt.Sprintf("A hash join is performed on %s.", n.HashCond),
		withOptional(Attributes{
			{"Description", "One input is hashed on the join keys by a separate Hash node. " +
				"Postgres then iterates over the other input and probes the hash table for matching rows."},
		}, "Join type", n.JoinType)
}

func explainSeqScan(n *model.PlanNode) (string, Attributes) {
	attrs := Attributes{
		{"Description", "A sequential scan reads every row of the table in order. " +
			"Unlike an index scan, only the table itself is read."},
		{"Relation", n.QualifiedRelation()},
	}
	attrs = append(attrs, filterAttributes(n)...)
	return fmt.Sprintf("A sequential scan is performed on the %s relation.", relation(n)), attrs
}

func explainHash(n *model.PlanNode) (string, Attributes) {
	return "A hash is performed on the results of the above operation.",
		Attributes{
			{"Description", "Hash builds a hash table from the rows of its input. It feeds a Hash Join."},
			{"Hash Buckets", num(n.HashBuckets) + "\n\nHashed rows are assigned to buckets. " +
				"Buckets are doubled until there are enough, so their number is always a power of 2."},
		}
}

func explainMergeJoin(n *model.PlanNode) (string, Attributes) {
	attrs := withOptional(Attributes{
		{"Description", "Both inputs are sorted on their join keys. " +
			"Postgres then walks the two lists in order and emits pairs with identical keys as joined rows."},
	}, "Join type", n.JoinType)
	return fmt.Sprintf("A merge join operation is performed on %s.", n.MergeCond),
		withOptional(attrs, "Parent Relationship", n.ParentRelationship)
}

func explainSort(n *model.PlanNode) (string, Attributes) {
	sentence := fmt.Sprintf("A sort operation is performed based on %s", strings.Join(n.SortKey, ", "))
	if n.SortSpaceType != "" {
		sentence += " and is done in " + n.SortSpaceType
	}
	attrs := withOptional(Attributes{
		{"Description", "Sorting usually serves an ORDER BY clause and is expensive in time and memory. " +
			"work_mem bounds the memory of each sort; larger sorts spill to disk and run slower."},
	}, "Parent Relationship", n.ParentRelationship)
	return sentence + ".", withOptional(attrs, "Sort Method", capitalize(n.SortMethod))
}

func explainNestedLoop(n *model.PlanNode) (string, Attributes) {
	sentence := "A Nested Loop Join operation is performed."
	if n.JoinFilter != "" {
		sentence = fmt.Sprintf("A Nested Loop Join operation is performed on %s.", n.JoinFilter)
	}
	return sentence, withOptional(Attributes{
		{"Description", "For every row of the outer input, the matching rows are looked up in the inner input. " +
			"It is effective when the outer input is small, keeping the number of loops low."},
	}, "Join type", n.JoinType)
}

func explainIndexOnlyScan(n *model.PlanNode) (string, Attributes) {
	attrs := Attributes{
		{"Description", "When every column the query needs is stored in the index, rows are returned from the index " +
			"without visiting the table, which is faster than an index scan on large data sets."},
		{"Relation", n.QualifiedRelation()},
	}
	attrs = withOptional(attrs, "Index Name", n.IndexName)
	attrs = withOptional(attrs, "Index Condition", n.IndexCond)
	attrs = append(attrs, filterAttributes(n)...)
	return fmt.Sprintf("An index-only scan is performed on the %s relation, reading every needed column from the index.", relation(n)), attrs
}

func explainIndexScan(n *model.PlanNode) (string, Attributes) {
	attrs := Attributes{
		{"Description", "The index is searched for rows matching the condition and those rows are then fetched from the table. " +
			"It is efficient when few rows are needed or a specific order is required, " +
			"but slower than a sequential scan when every row is read."},
		{"Relation", n.QualifiedRelation()},
	}
	attrs = withOptional(attrs, "Scan Direction", n.ScanDirection)
	attrs = withOptional(attrs, "Index Name", n.IndexName)
	attrs = withOptional(attrs, "Index Cond", n.IndexCond)
	attrs = append(attrs, filterAttributes(n)...)
	return fmt.Sprintf("An index scan is performed on the %s relation, checking each index entry against the condition.", relation(n)), attrs
}

func explainGeneric(n *model.PlanNode) (string, Attributes) {
	return fmt.Sprintf("A %s operation is performed.", n.NodeType), nil
}

func genericAttributes(n *model.PlanNode) Attributes {
	parallel := "No"
	if n.ParallelAware {
		parallel = "Yes"
	}
	if len(n.Workers) > 0 {
		parallel += fmt.Sprintf(" (%d workers)", len(n.Workers))
	}
	return Attributes{
		{"Parallel", parallel},
		{"Startup cost", num(n.StartupCost) + "\n\nNote: This value is unit free. " +
			"It is an estimate correlated with the time taken to return the first row."},
		{"Total cost", num(n.TotalCost) + "\n\nNote: This value is unit free. " +
			"It is an estimate correlated with the time taken to return all rows, children included."},
		{"Operation cost", fmt.Sprintf("%.2f", n.OpCost) + "\n\nThe cost estimated for this operation only."},
		{"Planned Rows", num(n.PlanRows) + "\n\nNumber of rows estimated to be returned."},
		{"Planned Width", num(n.PlanWidth) + "\n\nAverage estimated size in bytes of a returned row."},
		{"Actual startup time", num(n.ActualStartupTime) + "\n\nMilliseconds taken to return the first row."},
		{"Actual total time", num(n.ActualTotalTime) + "\n\nMilliseconds spent in this operation and all of its children. " +
			"It is a per-loop average, rounded to the nearest thousandth of a millisecond."},
		{"Actual Operation time", fmt.Sprintf("%.2f", n.ActualOpCost) + "\n\nMilliseconds spent in this operation only."},
		{"Actual Rows", num(n.ActualRows) + "\n\nAverage number of rows returned per loop, rounded to the nearest integer."},
		{"Actual Loops", num(n.ActualLoops) + "\n\nNumber of times the operation was executed."},
	}
}

func filterAttributes(n *model.PlanNode) Attributes {
	if n.Filter == "" {
		return nil
	}
	return Attributes{
		{"Filter condition", n.Filter},
		{"Rows removed by filter", num(n.RowsRemovedByFilter) + "\n\nPer-loop average of rows removed by the filter condition."},
	}
}

func relation(n *model.PlanNode) string {
	if n.Schema != "" && n.RelationName != "" {
		return n.Schema + "." + n.RelationName
	}
	return n.RelationName
}

func withOptional(attrs Attributes, label, value string) Attributes {
	if value == "" {
		return attrs
	}
	return append(attrs, Attribute{Label: label, Value: value})
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
