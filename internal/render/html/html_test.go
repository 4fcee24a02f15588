package html_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/render/html"
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
	require.NoError(t, html.Render(&buf, analyse(t, "hash_join"), html.Options{Title: "test", IncludeStyles: true}))

	out := buf.String()
	assert.Contains(t, out, "<title>test</title>")
	assert.Contains(t, out, "<style>")
	assert.Contains(t, out, "Execution 46.05 ms · Planning 0.412 ms · Nodes 4 · Hot 2")
	assert.Contains(t, out, "<h2>Insights</h2>")
	assert.Contains(t, out, "Hot spot: Hash Join self 22.10 ms (48.8%)")
	assert.Contains(t, out, "<summary>5. Finally, a hash join is performed on (c.c_custkey = o.o_custkey).</summary>")
	assert.Contains(t, out, `<li id="node-0-hash-join">`)
	assert.Contains(t, out, "<tr><th>Join type</th><td><p>Inner</p></td></tr>")
	assert.Contains(t, out, "<tr><th>Startup cost</th><td><p>100.5</p><p>Note: This value is unit free.")
	assert.Contains(t, out, `<li class="connective">2. The above output is then passed into a Hash Join operation as an input.`)
	assert.Contains(t, out, "<h2>Plan Tree</h2>")
}

func TestRenderEmptyPlan(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, html.Render(&buf, analyse(t, "empty"), html.Options{}))

	out := buf.String()
	assert.Contains(t, out, "<title>planwise report</title>")
	assert.Contains(t, out, "No plan returned")
	assert.NotContains(t, out, "Plan Tree")
	assert.NotContains(t, out, "<style>")

	require.Error(t, html.Render(&buf, nil, html.Options{}))
}
