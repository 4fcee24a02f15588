package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"

	"github.com/mickamy/planwise/internal/config"
)

var (
	versionSanitizer = regexp.MustCompile(`^v?[0-9]+\.?[0-9]*`)
	supportsSettings = semver.MustParseRange(">=12.0.0")
)

// Strategies toggles planner join and scan strategies for a single EXPLAIN.
type Strategies struct {
	HashJoin   bool
	MergeJoin  bool
	NestedLoop bool
	SeqScan    bool
}

// DefaultStrategies leaves every strategy enabled.
func DefaultStrategies() Strategies {
	return Strategies{HashJoin: true, MergeJoin: true, NestedLoop: true, SeqScan: true}
}

// StrategiesFromConfig maps the configured toggles.
func StrategiesFromConfig(cfg config.StrategyConfig) Strategies {
	return Strategies{
		HashJoin:   cfg.HashJoin,
		MergeJoin:  cfg.MergeJoin,
		NestedLoop: cfg.NestedLoop,
		SeqScan:    cfg.SeqScan,
	}
}

// Statements returns the SET LOCAL commands applying the toggles.
func (s Strategies) Statements() []string {
	return []string{
		setting("enable_hashjoin", s.HashJoin),
		setting("enable_mergejoin", s.MergeJoin),
		setting("enable_nestloop", s.NestedLoop),
		setting("enable_seqscan", s.SeqScan),
	}
}

func setting(name string, enabled bool) string {
	value := "off"
	if enabled {
		value = "on"
	}
	return fmt.Sprintf("SET LOCAL %s = %s", name, value)
}

// Options customises how EXPLAIN is executed.
type Options struct {
	Timeout time.Duration
	// Strategies is applied with SET LOCAL; nil leaves the server defaults.
	Strategies *Strategies
	Logger     log.Logger
}

// ParseServerVersion reads the server_version setting, which may carry a
// distribution suffix such as "16.2 (Debian 16.2-1.pgdg120+2)".
func ParseServerVersion(raw string) (semver.Version, error) {
	found := versionSanitizer.FindString(strings.TrimSpace(raw))
	v, err := semver.ParseTolerant(found)
	if err != nil {
		return semver.Version{}, fmt.Errorf("runner: parse server version %q: %w", raw, err)
	}
	return v, nil
}

// ExplainStatement wraps query in an EXPLAIN producing the JSON document the
// parser expects. SETTINGS is requested from servers that support it.
func ExplainStatement(query string, server semver.Version) string {
	opts := []string{"ANALYZE", "COSTS", "VERBOSE", "BUFFERS"}
	if supportsSettings(server) {
		opts = append(opts, "SETTINGS")
	}
	opts = append(opts, "FORMAT JSON")
	return fmt.Sprintf("EXPLAIN (%s) %s", strings.Join(opts, ", "), strings.TrimRight(query, "; \n\t"))
}

// Run executes EXPLAIN ANALYZE for the provided SQL statement inside a
// transaction that is always rolled back, so data-modifying statements leave
// no trace.
func Run(ctx context.Context, dsn, sqlStatement string, opts Options) ([]byte, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("runner: empty DSN")
	}
	query := strings.TrimSpace(sqlStatement)
	if query == "" {
		return nil, fmt.Errorf("runner: empty sql statement")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "runner")

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runner: connect: %w", err)
	}
	defer conn.Close(ctx)

	var rawVersion string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&rawVersion); err != nil {
		return nil, fmt.Errorf("runner: server version: %w", err)
	}
	server, err := ParseServerVersion(rawVersion)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			level.Warn(logger).Log("msg", "rollback failed", "err", err)
		}
	}()

	if opts.Strategies != nil {
		for _, stmt := range opts.Strategies.Statements() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("runner: %s: %w", stmt, err)
			}
		}
	}

	explainSQL := ExplainStatement(query, server)
	level.Debug(logger).Log("msg", "running explain", "server_version", server.String())

	var payload []byte
	if err := tx.QueryRow(ctx, explainSQL).Scan(&payload); err != nil {
		return nil, fmt.Errorf("runner: query: %w", err)
	}
	return payload, nil
}

// Source fetches a plan for a fixed query from a live server.
type Source struct {
	DSN     string
	Query   string
	Options Options
}

// Plan runs EXPLAIN and returns the raw JSON document.
func (s Source) Plan(ctx context.Context) ([]byte, error) {
	return Run(ctx, s.DSN, s.Query, s.Options)
}
