package tui_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/diff"
	"github.com/mickamy/planwise/internal/render/tui"
	"github.com/mickamy/planwise/internal/session"
	"github.com/mickamy/planwise/test"
)

func analyse(t *testing.T, name string) *session.Result {
	t.Helper()
	result, err := session.New(config.Default()).Analyze(bytes.NewReader(test.PlanJSON(t, name)))
	require.NoError(t, err)
	return result
}

func TestRenderHashJoin(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analyse(t, "hash_join"), tui.Options{EnableColor: false, ShowAttributes: true}))

	out := buf.String()
	assert.Contains(t, out, "Execution time 46.05 ms (planning 0.412 ms)")
	assert.Contains(t, out, "Nodes 4 | Hot nodes 2")
	assert.Contains(t, out, "Hot spot: Hash Join self 22.10 ms (48.8%)")
	assert.Contains(t, out, "Slowest Operation: Hash Join took 22.10ms.")
	assert.Contains(t, out, "Hash Join | self 22.10 ms")
	assert.Contains(t, out, "    `-- Seq Scan orders (o) | self 15.50 ms")
	assert.Contains(t, out, "Narrative:\n1. A sequential scan is performed on the public.customer relation.")
	assert.Contains(t, out, "5. Finally, a hash join is performed on (c.c_custkey = o.o_custkey).")
	assert.Contains(t, out, "     Join type: Inner")
	assert.Contains(t, out, "Percentage Of Time Spent On Operation: 48.79%")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderMaxDepth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analyse(t, "hash_join"), tui.Options{MaxDepth: 1}))
	assert.Contains(t, buf.String(), "`-- ... (1 more nodes)")
	assert.NotContains(t, buf.String(), "     Join type:")
}

func TestRenderEmptyPlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analyse(t, "empty"), tui.Options{}))
	assert.Equal(t, "No plan returned\n", buf.String())

	require.Error(t, tui.Render(nil, analyse(t, "empty"), tui.Options{}))
	require.Error(t, tui.Render(&buf, nil, tui.Options{}))
}

func TestRenderDiff(t *testing.T) {
	report, err := diff.Compare(analyse(t, "diff_old").Analysis, analyse(t, "diff_new").Analysis)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tui.RenderDiff(&buf, report, tui.Options{}))

	out := buf.String()
	assert.Contains(t, out, "Execution time 60.4 ms → 41.7 ms")
	assert.Contains(t, out, "Scans:")
	assert.Contains(t, out, "  - customer | Seq Scan → Index Scan | 11.80 ms → 2.50 ms")
	assert.Contains(t, out, "Joins:")
	assert.Contains(t, out, "      However, the old plan scan was performed with a filtering condition of none")
	assert.Equal(t, 3, strings.Count(out, "  - "))
}
