// Package session runs the analysis pipeline for one plan: decode, sanitize,
// build, attribute and narrate. A Session carries its own configuration, so
// several can run side by side.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/insight"
	"github.com/mickamy/planwise/internal/metrics"
	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/narrator"
	"github.com/mickamy/planwise/internal/parser"
	"github.com/mickamy/planwise/internal/sanitize"
)

// PlanSource produces a raw EXPLAIN (FORMAT JSON) document.
type PlanSource interface {
	Plan(ctx context.Context) ([]byte, error)
}

// Result is the outcome of analysing one plan. Explain and Analysis are nil
// when the source returned no plan.
type Result struct {
	Explain  *model.Explain
	Analysis *analyzer.PlanAnalysis
	Entries  []narrator.Entry
	Clamped  int

	insights config.InsightConfig
}

// Empty reports whether the source returned no plan.
func (r *Result) Empty() bool {
	return r.Analysis == nil
}

// NodeInsights evaluates the per-node rules with the session thresholds.
func (r *Result) NodeInsights(node *model.PlanNode) insight.Insights {
	return insight.ForNode(node, r.insights)
}

// PlanInsights summarises the plan; empty for an empty result.
func (r *Result) PlanInsights() insight.Insights {
	if r.Empty() {
		return nil
	}
	return insight.ForPlan(r.Analysis.Summary)
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session and its narrator.
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records session outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session owns the configuration and collaborators of an analysis.
type Session struct {
	cfg      config.Config
	logger   log.Logger
	metrics  *metrics.Metrics
	narrator *narrator.Narrator
}

// New builds a Session around cfg.
func New(cfg config.Config, opts ...Option) *Session {
	s := &Session{cfg: cfg, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With(s.logger, "component", "session")

	var narratorOpts []narrator.Option
	if s.metrics != nil {
		unsupported := s.metrics.UnsupportedOperators
		narratorOpts = append(narratorOpts, narrator.WithUnsupportedHook(func(kind string) {
			unsupported.WithLabelValues(kind).Inc()
		}))
	}
	s.narrator = narrator.New(s.logger, narratorOpts...)
	return s
}

// Config returns the configuration the session was built with.
func (s *Session) Config() config.Config {
	return s.cfg
}

// Narrator exposes the operator registry, for registering custom kinds.
func (s *Session) Narrator() *narrator.Narrator {
	return s.narrator
}

// AnalyzeSource fetches a plan from src and analyses it.
func (s *Session) AnalyzeSource(ctx context.Context, src PlanSource) (*Result, error) {
	payload, err := src.Plan(ctx)
	if err != nil {
		s.observe(metrics.OutcomeFailed)
		return nil, fmt.Errorf("fetch plan: %w", err)
	}
	return s.Analyze(bytes.NewReader(payload))
}

// Analyze decodes and analyses a plan document. A document without a plan
// yields an empty Result whose only entry reads "No plan returned".
func (s *Session) Analyze(r io.Reader) (*Result, error) {
	start := time.Now()
	result, err := s.analyze(r)
	switch {
	case err != nil:
		s.observe(metrics.OutcomeFailed)
		level.Error(s.logger).Log("msg", "analysis failed", "err", err)
		return nil, err
	case result.Empty():
		s.observe(metrics.OutcomeEmpty)
		level.Info(s.logger).Log("msg", "no plan returned")
	default:
		s.observe(metrics.OutcomeAnalysed)
		if s.metrics != nil {
			s.metrics.PlanNodes.Observe(float64(result.Analysis.Summary.NodeCount))
			s.metrics.ClampedNodes.Add(float64(result.Clamped))
		}
		level.Debug(s.logger).Log("msg", "plan analysed",
			"nodes", result.Analysis.Summary.NodeCount,
			"clamped", result.Clamped,
			"execution_time", result.Analysis.Summary.ExecutionTime)
	}
	if s.metrics != nil {
		s.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func (s *Session) analyze(r io.Reader) (*Result, error) {
	entry, err := parser.Decode(r)
	if errors.Is(err, parser.ErrEmptyPlan) {
		return &Result{Entries: narrator.NoPlan(), insights: s.cfg.Insights}, nil
	}
	if err != nil {
		return nil, err
	}

	clamped := 0
	if plan, ok := entry["Plan"].(map[string]any); ok {
		clamped = sanitize.Plan(plan)
	}
	if clamped > 0 {
		level.Debug(s.logger).Log("msg", "clamped child timings", "nodes", clamped)
	}

	explain, err := parser.Build(entry)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	analysis, err := analyzer.Analyze(explain)
	if err != nil {
		return nil, err
	}

	return &Result{
		Explain:  explain,
		Analysis: analysis,
		Entries:  s.narrator.Narrate(analysis.Root),
		Clamped:  clamped,
		insights: s.cfg.Insights,
	}, nil
}

func (s *Session) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.Sessions.WithLabelValues(outcome).Inc()
	}
}
