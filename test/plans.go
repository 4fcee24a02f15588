package test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/parser"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves a path relative to the repository rootPath (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// PlanJSON returns the raw EXPLAIN document stored in testdata/plans/<name>.txtar.
func PlanJSON(t *testing.T, name string) []byte {
	t.Helper()
	archive, err := txtar.ParseFile(filepath.Join(RootPath(t), "testdata", "plans", name+".txtar"))
	require.NoError(t, err)
	require.Len(t, archive.Files, 1)
	require.Equal(t, name+".json", archive.Files[0].Name)
	return archive.Files[0].Data
}

// LoadPlan parses a fixture plan.
func LoadPlan(t *testing.T, name string) *model.Explain {
	t.Helper()
	plan, err := parser.ParseJSON(bytes.NewReader(PlanJSON(t, name)))
	require.NoError(t, err, "parse plan %s", name)
	return plan
}

// LoadAnalysis parses and analyzes a fixture plan.
func LoadAnalysis(t *testing.T, name string) *analyzer.PlanAnalysis {
	t.Helper()
	analysis, err := analyzer.Analyze(LoadPlan(t, name))
	require.NoError(t, err, "analyze plan %s", name)
	return analysis
}
