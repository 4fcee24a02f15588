package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/planwise/internal/config"
	"github.com/mickamy/planwise/internal/metrics"
	"github.com/mickamy/planwise/internal/runner"
	"github.com/mickamy/planwise/internal/session"
)

type commonFlags struct {
	configPath *string
	logLevel   *string
	metricsOut *string
}

func registerCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Path to configuration file (JSON or YAML). Falls back to $PLANWISE_CONFIG"),
		logLevel:   fs.String("log-level", "", "Log level: debug, info, warn or error (default from config)"),
		metricsOut: fs.String("metrics-out", "", "Write Prometheus metrics in text format to this path on exit"),
	}
}

type sourceFlags struct {
	url        *string
	sqlPath    *string
	query      *string
	timeout    *time.Duration
	noHashJoin *bool
	noMerge    *bool
	noNestLoop *bool
	noSeqScan  *bool
}

func registerSourceFlags(fs *flag.FlagSet) sourceFlags {
	return sourceFlags{
		url:        fs.String("url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string; defaults to $DATABASE_URL"),
		sqlPath:    fs.String("sql", "", "Path to the SQL file to EXPLAIN"),
		query:      fs.String("query", "", "Inline SQL string to EXPLAIN"),
		timeout:    fs.Duration("timeout", 0, "Optional execution timeout, e.g. 45s"),
		noHashJoin: fs.Bool("no-hashjoin", false, "Disable hash joins while planning"),
		noMerge:    fs.Bool("no-mergejoin", false, "Disable merge joins while planning"),
		noNestLoop: fs.Bool("no-nestloop", false, "Disable nested loops while planning"),
		noSeqScan:  fs.Bool("no-seqscan", false, "Disable sequential scans while planning"),
	}
}

func (f sourceFlags) source(e *env) (runner.Source, error) {
	connection := strings.TrimSpace(*f.url)
	if connection == "" {
		return runner.Source{}, fmt.Errorf("--url is required or set $DATABASE_URL")
	}
	if *f.sqlPath != "" && *f.query != "" {
		return runner.Source{}, fmt.Errorf("specify only one of --sql or --query")
	}

	var sqlText string
	switch {
	case *f.sqlPath != "":
		data, err := os.ReadFile(*f.sqlPath)
		if err != nil {
			return runner.Source{}, fmt.Errorf("read sql file: %w", err)
		}
		sqlText = string(data)
	case *f.query != "":
		sqlText = *f.query
	default:
		return runner.Source{}, fmt.Errorf("--sql or --query is required")
	}

	opts := runner.Options{Timeout: *f.timeout, Logger: e.logger}
	if strategies := f.strategies(e.cfg.Strategies); strategies != runner.DefaultStrategies() {
		opts.Strategies = &strategies
	}
	return runner.Source{DSN: connection, Query: sqlText, Options: opts}, nil
}

func (f sourceFlags) strategies(cfg config.StrategyConfig) runner.Strategies {
	s := runner.StrategiesFromConfig(cfg)
	if *f.noHashJoin {
		s.HashJoin = false
	}
	if *f.noMerge {
		s.MergeJoin = false
	}
	if *f.noNestLoop {
		s.NestedLoop = false
	}
	if *f.noSeqScan {
		s.SeqScan = false
	}
	return s
}

// env carries what every command needs once flags are parsed.
type env struct {
	cfg        config.Config
	logger     log.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	metricsOut string
}

func setup(flags commonFlags) (*env, error) {
	if err := applyConfigPath(*flags.configPath); err != nil {
		return nil, err
	}
	cfg := config.Active()
	if lvl := strings.TrimSpace(*flags.logLevel); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	return &env{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		metrics:    metrics.NewMetrics(registry),
		metricsOut: strings.TrimSpace(*flags.metricsOut),
	}, nil
}

func (e *env) session() *session.Session {
	return session.New(e.cfg, session.WithLogger(e.logger), session.WithMetrics(e.metrics))
}

// close flushes the metrics dump when one was requested.
func (e *env) close() error {
	if e.metricsOut == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(e.metricsOut, e.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	level.Debug(e.logger).Log("msg", "metrics written", "path", e.metricsOut)
	return nil
}

func applyConfigPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("PLANWISE_CONFIG"))
	}
	return config.Apply(path)
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var allow level.Option
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		allow = level.AllowDebug()
	case "", "info":
		allow = level.AllowInfo()
	case "warn":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, allow)
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}
