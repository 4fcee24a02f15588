package session_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/insight"
	"github.com/mickamy/planwise/internal/metrics"
	"github.com/mickamy/planwise/internal/narrator"
	"github.com/mickamy/planwise/internal/parser"
	"github.com/mickamy/planwise/internal/session"
	"github.com/mickamy/planwise/test"
)

type sourceFunc func(ctx context.Context) ([]byte, error)

func (f sourceFunc) Plan(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

func newSession(t *testing.T, cfg config.Config) (*session.Session, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return session.New(cfg, session.WithLogger(log.NewNopLogger()), session.WithMetrics(m)), m
}

func TestAnalyzeHashJoin(t *testing.T) {
	s, m := newSession(t, config.Default())

	result, err := s.Analyze(bytes.NewReader(test.PlanJSON(t, "hash_join")))
	require.NoError(t, err)
	require.False(t, result.Empty())

	require.Len(t, result.Entries, 5)
	assert.Equal(t, "5. Finally, a hash join is performed on (c.c_custkey = o.o_custkey).", result.Entries[4].Sentence)
	assert.Same(t, result.Analysis.Root, result.Entries[4].Node)
	assert.Zero(t, result.Clamped)
	assert.Len(t, result.PlanInsights(), 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues(metrics.OutcomeAnalysed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PlanNodes))
}

func TestAnalyzeEmptyPlan(t *testing.T) {
	s, m := newSession(t, config.Default())

	for _, doc := range []string{string(test.PlanJSON(t, "empty")), "null", "", `[{"Planning Time": 0.1}]`} {
		result, err := s.Analyze(strings.NewReader(doc))
		require.NoError(t, err, doc)
		assert.True(t, result.Empty(), doc)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, narrator.NoPlanSentence, result.Entries[0].Sentence)
		assert.Nil(t, result.Explain)
		assert.Empty(t, result.PlanInsights())
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Sessions.WithLabelValues(metrics.OutcomeEmpty)))
}

func TestAnalyzeCountsClampsAndUnsupported(t *testing.T) {
	s, m := newSession(t, config.Default())

	result, err := s.Analyze(bytes.NewReader(test.PlanJSON(t, "aggregate_sort")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Clamped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClampedNodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnsupportedOperators.WithLabelValues("Aggregate")))
	assert.Equal(t, "4. Finally, a Aggregate operation is performed.", result.Entries[3].Sentence)
}

func TestAnalyzeMalformedPlan(t *testing.T) {
	s, m := newSession(t, config.Default())

	_, err := s.Analyze(strings.NewReader(`{"Plan": {"Node Type": "Hash", "Plans": [{"Total Cost": 1}]}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrMalformedPlan))

	var malformed *parser.MalformedPlanError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "0.0", malformed.Path)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues(metrics.OutcomeFailed)))
}

func TestAnalyzeSource(t *testing.T) {
	s, _ := newSession(t, config.Default())

	result, err := s.AnalyzeSource(context.Background(), sourceFunc(func(context.Context) ([]byte, error) {
		return test.PlanJSON(t, "seq_scan_filter"), nil
	}))
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)

	boom := errors.New("connection refused")
	_, err = s.AnalyzeSource(context.Background(), sourceFunc(func(context.Context) ([]byte, error) {
		return nil, boom
	}))
	require.ErrorIs(t, err, boom)
}

func TestNodeInsightsUseSessionThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Insights.FilterRemovedPercent = 95

	strict, _ := newSession(t, cfg)
	result, err := strict.Analyze(bytes.NewReader(test.PlanJSON(t, "seq_scan_filter")))
	require.NoError(t, err)
	assert.False(t, result.NodeInsights(result.Analysis.Root).Has(insight.LabelFilter))

	lenient, _ := newSession(t, config.Default())
	result, err = lenient.Analyze(bytes.NewReader(test.PlanJSON(t, "seq_scan_filter")))
	require.NoError(t, err)
	assert.True(t, result.NodeInsights(result.Analysis.Root).Has(insight.LabelFilter))
	assert.Equal(t, cfg, strict.Config())
}
