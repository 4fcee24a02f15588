package main

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/test"
)

func writePlan(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, test.PlanJSON(t, name), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDiffCommand(t *testing.T) {
	t.Setenv("PLANWISE_CONFIG", "")
	dir := t.TempDir()
	out := filepath.Join(dir, "diff.md")
	metricsOut := filepath.Join(dir, "metrics.prom")

	err := diffCommand([]string{
		"--old", writePlan(t, dir, "diff_old"),
		"--new", writePlan(t, dir, "diff_new"),
		"--out", out,
		"--metrics-out", metricsOut,
		"--log-level", "error",
	})
	require.NoError(t, err)

	report := readFile(t, out)
	assert.Contains(t, report, "# planwise diff")
	assert.Contains(t, report, "customer")

	assert.Contains(t, readFile(t, metricsOut), `planwise_sessions_total{outcome="analysed"} 2`)
}

func TestDiffCommandRejectsEmptyPlan(t *testing.T) {
	t.Setenv("PLANWISE_CONFIG", "")
	dir := t.TempDir()

	err := diffCommand([]string{
		"--old", writePlan(t, dir, "diff_old"),
		"--new", writePlan(t, dir, "empty"),
		"--log-level", "error",
	})
	require.Error(t, err)

	require.Error(t, diffCommand([]string{"--old", "a.json"}))
	require.Error(t, diffCommand([]string{"--old", filepath.Join(dir, "missing.json"), "--new", filepath.Join(dir, "missing.json"), "--log-level", "error"}))
}

func TestExplainCommand(t *testing.T) {
	t.Setenv("PLANWISE_CONFIG", "")
	dir := t.TempDir()
	input := writePlan(t, dir, "hash_join")

	tuiOut := filepath.Join(dir, "out.txt")
	require.NoError(t, explainCommand("explain", []string{"--input", input, "--color=false", "--out", tuiOut, "--log-level", "error"}))
	assert.Contains(t, readFile(t, tuiOut), "5. Finally, a hash join is performed on (c.c_custkey = o.o_custkey).")

	htmlOut := filepath.Join(dir, "out.html")
	require.NoError(t, explainCommand("report", []string{"--input", input, "--mode", "html", "--title", "orders", "--out", htmlOut, "--log-level", "error"}))
	assert.Contains(t, readFile(t, htmlOut), "<title>orders</title>")

	require.Error(t, explainCommand("explain", []string{"--input", input, "--mode", "pdf"}))
}

func TestExplainCommandRequiresSource(t *testing.T) {
	t.Setenv("PLANWISE_CONFIG", "")
	t.Setenv("DATABASE_URL", "")

	err := explainCommand("explain", []string{"--log-level", "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--url is required")
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("PLANWISE_CONFIG", filepath.Join(test.RootPath(t), "testdata", "config", "invalid.yaml"))
	require.Error(t, explainCommand("explain", []string{"--input", "plan.json"}))

	t.Setenv("PLANWISE_CONFIG", "")
	require.NoError(t, applyConfigPath(""))
	assert.Equal(t, config.Default(), config.Active())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn")
	require.NoError(t, err)

	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown")

	out := buf.String()
	assert.Contains(t, out, "level=warn")
	assert.Contains(t, out, "msg=shown")
	assert.NotContains(t, out, "hidden")

	_, err = newLogger(&buf, "verbose")
	require.Error(t, err)
}

func TestSourceFlags(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	live := registerSourceFlags(fs)
	require.NoError(t, fs.Parse([]string{"--query", "SELECT 1", "--no-seqscan", "--no-nestloop"}))

	strategies := live.strategies(config.Default().Strategies)
	assert.True(t, strategies.HashJoin)
	assert.True(t, strategies.MergeJoin)
	assert.False(t, strategies.NestedLoop)
	assert.False(t, strategies.SeqScan)

	src, err := live.source(&env{cfg: config.Default()})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/app", src.DSN)
	assert.Equal(t, "SELECT 1", src.Query)
	require.NotNil(t, src.Options.Strategies)
	assert.Equal(t, strategies, *src.Options.Strategies)

	plain := flag.NewFlagSet("plain", flag.ContinueOnError)
	plain.SetOutput(io.Discard)
	defaults := registerSourceFlags(plain)
	require.NoError(t, plain.Parse([]string{"--query", "SELECT 1"}))
	src, err = defaults.source(&env{cfg: config.Default()})
	require.NoError(t, err)
	assert.Nil(t, src.Options.Strategies)

	both := flag.NewFlagSet("both", flag.ContinueOnError)
	both.SetOutput(io.Discard)
	conflicting := registerSourceFlags(both)
	require.NoError(t, both.Parse([]string{"--query", "SELECT 1", "--sql", "q.sql"}))
	_, err = conflicting.source(&env{cfg: config.Default()})
	require.Error(t, err)
}
