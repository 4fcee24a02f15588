package narrator_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/narrator"
	"github.com/mickamy/planwise/test"
)

func TestExplainHashJoinOrder(t *testing.T) {
	analysis := test.LoadAnalysis(t, "hash_join")
	n := narrator.New(log.NewNopLogger())

	entries := n.Explain(analysis.Root)
	require.Len(t, entries, 5)

	assert.Equal(t, "A sequential scan is performed on the public.customer relation.", entries[0].Sentence)
	assert.True(t, entries[1].Connective())
	assert.Nil(t, entries[1].Attributes)
	assert.Equal(t, "The above output is then passed into a Hash Join operation as an input. "+
		"However, before we can process the Hash Join operation, we still have to process 1 more intermediate input, "+
		"discussed immediately below.", entries[1].Sentence)
	assert.Equal(t, "A sequential scan is performed on the public.orders relation.", entries[2].Sentence)
	assert.Equal(t, "A hash is performed on the results of the above operation.", entries[3].Sentence)
	assert.Equal(t, "A hash join is performed on (c.c_custkey = o.o_custkey).", entries[4].Sentence)
	assert.Same(t, analysis.Root, entries[4].Node)
}

func TestNarrateNumbersEntries(t *testing.T) {
	analysis := test.LoadAnalysis(t, "hash_join")
	entries := narrator.New(nil).Narrate(analysis.Root)
	require.Len(t, entries, 5)

	for i, entry := range entries[:4] {
		assert.True(t, strings.HasPrefix(entry.Sentence, string(rune('1'+i))+". "), entry.Sentence)
	}
	assert.Equal(t, "5. Finally, a hash join is performed on (c.c_custkey = o.o_custkey).", entries[4].Sentence)
}

func TestEntryCountMatchesTreeShape(t *testing.T) {
	n := narrator.New(log.NewNopLogger())
	for _, name := range []string{"hash_join", "seq_scan_filter", "aggregate_sort", "diff_old", "diff_new"} {
		t.Run(name, func(t *testing.T) {
			analysis := test.LoadAnalysis(t, name)
			want := 0
			analysis.Root.Walk(func(node *model.PlanNode) {
				want++
				if len(node.Children) >= 2 {
					want += len(node.Children) - 1
				}
			})
			entries := n.Explain(analysis.Root)
			assert.Len(t, entries, want)
			assert.Same(t, analysis.Root, entries[len(entries)-1].Node)
		})
	}
}

func TestSeqScanAttributes(t *testing.T) {
	analysis := test.LoadAnalysis(t, "seq_scan_filter")
	entry := narrator.New(log.NewNopLogger()).ExplainSelf(analysis.Root)

	relation, ok := entry.Attributes.Get("Relation")
	require.True(t, ok)
	assert.Equal(t, "public.orders as orders", relation)

	filter, ok := entry.Attributes.Get("Filter condition")
	require.True(t, ok)
	assert.Equal(t, "(o_totalprice > '1000'::numeric)", filter)

	removed, _ := entry.Attributes.Get("Rows removed by filter")
	assert.True(t, strings.HasPrefix(removed, "900\n\n"), removed)

	parallel, _ := entry.Attributes.Get("Parallel")
	assert.Equal(t, "No", parallel)

	labels := make([]string, 0, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		labels = append(labels, attr.Label)
	}
	assert.Equal(t, []string{
		"Description", "Relation", "Filter condition", "Rows removed by filter",
		"Parallel", "Startup cost", "Total cost", "Operation cost", "Planned Rows", "Planned Width",
		"Actual startup time", "Actual total time", "Actual Operation time", "Actual Rows", "Actual Loops",
	}, labels)
}

func TestParallelWorkersAndSort(t *testing.T) {
	analysis := test.LoadAnalysis(t, "aggregate_sort")
	n := narrator.New(log.NewNopLogger())

	sortNode := analysis.Root.Children[0]
	gather := sortNode.Children[0]
	scan := gather.Children[0]

	entry := n.ExplainSelf(scan)
	parallel, _ := entry.Attributes.Get("Parallel")
	assert.Equal(t, "Yes (2 workers)", parallel)

	entry = n.ExplainSelf(gather)
	assert.Equal(t, "A Gather operation is performed on the output of 2 workers.", entry.Sentence)

	entry = n.ExplainSelf(sortNode)
	assert.Equal(t, "A sort operation is performed based on l.l_orderkey, l.l_linenumber and is done in Memory.", entry.Sentence)
	method, _ := entry.Attributes.Get("Sort Method")
	assert.Equal(t, "Quicksort", method)
	opCost, _ := entry.Attributes.Get("Operation cost")
	assert.True(t, strings.HasPrefix(opCost, "7500.00\n\n"), opCost)
}

func TestUnsupportedOperatorFallsBack(t *testing.T) {
	analysis := test.LoadAnalysis(t, "aggregate_sort")

	var buf bytes.Buffer
	var seen []string
	n := narrator.New(log.NewLogfmtLogger(&buf), narrator.WithUnsupportedHook(func(kind string) {
		seen = append(seen, kind)
	}))
	assert.False(t, n.Supports("Aggregate"))

	entry := n.ExplainSelf(analysis.Root)
	assert.Equal(t, "A Aggregate operation is performed.", entry.Sentence)
	assert.Equal(t, "Parallel", entry.Attributes[0].Label)
	assert.Len(t, entry.Attributes, 11)
	assert.Equal(t, []string{"Aggregate"}, seen)
	assert.Contains(t, buf.String(), `msg="unsupported operator"`)
	assert.Contains(t, buf.String(), "node_type=Aggregate")
}

func TestRegisterOverridesKind(t *testing.T) {
	n := narrator.New(log.NewNopLogger())
	n.Register("Aggregate", func(node *model.PlanNode) (string, narrator.Attributes) {
		return "An aggregate folds its input into one row.", narrator.Attributes{{Label: "Strategy", Value: "Plain"}}
	})
	require.True(t, n.Supports("Aggregate"))

	analysis := test.LoadAnalysis(t, "aggregate_sort")
	entries := n.Narrate(analysis.Root)
	last := entries[len(entries)-1]
	assert.Equal(t, "4. Finally, an aggregate folds its input into one row.", last.Sentence)
	strategy, ok := last.Attributes.Get("Strategy")
	require.True(t, ok)
	assert.Equal(t, "Plain", strategy)
}

func TestExplainAttributesLazily(t *testing.T) {
	root := &model.PlanNode{
		NodeType:        model.KindHash,
		TotalCost:       12,
		ActualTotalTime: 3,
		Children: []*model.PlanNode{
			{NodeType: model.KindSeqScan, RelationName: "t", TotalCost: 10, ActualTotalTime: 2},
		},
	}
	entries := narrator.New(log.NewNopLogger()).Explain(root)
	require.Len(t, entries, 2)
	assert.True(t, root.Attributed())
	opCost, _ := entries[1].Attributes.Get("Operation cost")
	assert.True(t, strings.HasPrefix(opCost, "2.00\n\n"), opCost)
}

func TestNarrateWithoutPlan(t *testing.T) {
	entries := narrator.New(log.NewNopLogger()).Narrate(nil)
	require.Len(t, entries, 1)
	assert.Equal(t, narrator.NoPlanSentence, entries[0].Sentence)
	assert.True(t, entries[0].Connective())
}
