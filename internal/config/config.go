package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds tunable thresholds for insight scoring, the planner strategies
// requested from the plan source and logging.
type Config struct {
	Insights   InsightConfig  `json:"insights" yaml:"insights"`
	Strategies StrategyConfig `json:"strategies" yaml:"strategies"`
	Log        LogConfig      `json:"log" yaml:"log"`
}

// InsightConfig defines thresholds for insight generation.
type InsightConfig struct {
	FilterRemovedPercent float64 `json:"filter_removed_percent" yaml:"filter_removed_percent"`
	EstimateDecentError  float64 `json:"estimate_decent_error" yaml:"estimate_decent_error"`
	EstimateGoodError    float64 `json:"estimate_good_error" yaml:"estimate_good_error"`
	SlowMs               float64 `json:"slow_ms" yaml:"slow_ms"`
	VerySlowMs           float64 `json:"very_slow_ms" yaml:"very_slow_ms"`
	HighCost             float64 `json:"high_cost" yaml:"high_cost"`
	VeryHighCost         float64 `json:"very_high_cost" yaml:"very_high_cost"`
}

// StrategyConfig toggles planner strategies before a plan is generated.
type StrategyConfig struct {
	HashJoin   bool `json:"hash_join" yaml:"hash_join"`
	MergeJoin  bool `json:"merge_join" yaml:"merge_join"`
	NestedLoop bool `json:"nested_loop" yaml:"nested_loop"`
	SeqScan    bool `json:"seq_scan" yaml:"seq_scan"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

var (
	mu     sync.RWMutex
	active = Default()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Insights: InsightConfig{
			FilterRemovedPercent: 70,
			EstimateDecentError:  0.5,
			EstimateGoodError:    0.8,
			SlowMs:               5,
			VerySlowMs:           10,
			HighCost:             3000,
			VeryHighCost:         10000,
		},
		Strategies: StrategyConfig{
			HashJoin:   true,
			MergeJoin:  true,
			NestedLoop: true,
			SeqScan:    true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Load reads a configuration file on top of the defaults. Files ending in
// .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Apply loads configuration from the provided path. Empty path resets to default.
func Apply(path string) error {
	if path == "" {
		Use(Default())
		return nil
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Use(cfg)
	return nil
}

// Validate reports every inconsistent threshold at once.
func (c Config) Validate() error {
	var result *multierror.Error
	in := c.Insights

	if in.FilterRemovedPercent < 0 || in.FilterRemovedPercent > 100 {
		result = multierror.Append(result, fmt.Errorf("insights.filter_removed_percent must be within [0, 100], got %v", in.FilterRemovedPercent))
	}
	if in.EstimateDecentError < 0 || in.EstimateDecentError >= in.EstimateGoodError {
		result = multierror.Append(result, fmt.Errorf("insights.estimate_decent_error (%v) must be non-negative and below estimate_good_error (%v)", in.EstimateDecentError, in.EstimateGoodError))
	}
	if in.SlowMs < 0 || in.SlowMs >= in.VerySlowMs {
		result = multierror.Append(result, fmt.Errorf("insights.slow_ms (%v) must be non-negative and below very_slow_ms (%v)", in.SlowMs, in.VerySlowMs))
	}
	if in.HighCost < 0 || in.HighCost >= in.VeryHighCost {
		result = multierror.Append(result, fmt.Errorf("insights.high_cost (%v) must be non-negative and below very_high_cost (%v)", in.HighCost, in.VeryHighCost))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}

	return result.ErrorOrNil()
}
