package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mickamy/planwise/internal/diff"
	"github.com/mickamy/planwise/internal/render/html"
	"github.com/mickamy/planwise/internal/render/tui"
	"github.com/mickamy/planwise/internal/session"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "explain", "report":
		err = explainCommand(cmd, args)
	case "diff":
		err = diffCommand(args)
	case "version":
		err = versionCommand(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`planwise - PostgreSQL EXPLAIN narrator

Usage:
  planwise <command> [options]

Commands:
  run      Execute EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) for a query
  explain  Narrate a plan step by step with per-operator insights
  report   Alias of explain
  diff     Compare the scans and joins of two plans
  version  Show CLI version information

run, explain and diff accept --config, --log-level and --metrics-out.
Use "planwise <command> -h" for command-specific help.`)
}

func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planwise run --url <url> (--sql file.sql | --query \"SELECT ...\") [--out plan.json]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	common := registerCommonFlags(fs)
	live := registerSourceFlags(fs)
	outPath := fs.String("out", "", "Path to write the resulting JSON (defaults to stdout)")

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	e, err := setup(common)
	if err != nil {
		return err
	}

	src, err := live.source(e)
	if err != nil {
		return err
	}
	payload, err := src.Plan(context.Background())
	if err != nil {
		return err
	}

	pretty, err := indentJSON(payload)
	if err != nil {
		return err
	}
	if err := writeOutput(*outPath, pretty); err != nil {
		return err
	}
	return e.close()
}

func explainCommand(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planwise %s (--input plan.json | --url <url> --query \"SELECT ...\") [--mode tui|html] [--out file]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}

	common := registerCommonFlags(fs)
	live := registerSourceFlags(fs)
	var (
		input      = fs.String("input", "", "Path to EXPLAIN JSON input; takes precedence over --url")
		output     = fs.String("out", "", "Output path (stdout if omitted)")
		mode       = fs.String("mode", "tui", "Output mode: tui or html")
		title      = fs.String("title", "planwise report", "Report title (HTML)")
		color      = fs.Bool("color", true, "Enable ANSI colors for TUI output")
		maxDepth   = fs.Int("max-depth", 0, "Limit tree depth (TUI)")
		attributes = fs.Bool("attributes", false, "Print operator attributes under each step (TUI)")
		includeCSS = fs.Bool("css", true, "Include inline styles (HTML)")
	)

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *mode != "tui" && *mode != "html" {
		return fmt.Errorf("unknown mode %q (expected tui or html)", *mode)
	}
	e, err := setup(common)
	if err != nil {
		return err
	}
	s := e.session()

	var result *session.Result
	if *input != "" {
		result, err = analyzeFile(s, *input)
	} else {
		src, srcErr := live.source(e)
		if srcErr != nil {
			return fmt.Errorf("--input or --url with a query is required: %w", srcErr)
		}
		result, err = s.AnalyzeSource(context.Background(), src)
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch *mode {
	case "tui":
		err = tui.Render(&buf, result, tui.Options{
			EnableColor:    *color,
			MaxDepth:       *maxDepth,
			ShowAttributes: *attributes,
		})
	case "html":
		err = html.Render(&buf, result, html.Options{
			Title:         *title,
			IncludeStyles: *includeCSS,
		})
	}
	if err != nil {
		return err
	}
	if err := writeOutput(*output, buf.Bytes()); err != nil {
		return err
	}
	return e.close()
}

func diffCommand(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: planwise diff --old old.json --new new.json [--format md|json|tui]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	common := registerCommonFlags(fs)
	var (
		oldPath = fs.String("old", "", "Path to the old EXPLAIN JSON")
		newPath = fs.String("new", "", "Path to the new EXPLAIN JSON")
		format  = fs.String("format", "md", "Output format: md, json or tui")
		output  = fs.String("out", "", "Output path (stdout if omitted)")
		color   = fs.Bool("color", true, "Enable ANSI colors for tui output")
	)

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *oldPath == "" || *newPath == "" {
		return fmt.Errorf("--old and --new are required")
	}
	e, err := setup(common)
	if err != nil {
		return err
	}
	s := e.session()

	var oldResult, newResult *session.Result
	var g errgroup.Group
	g.Go(func() error {
		r, err := analyzeFile(s, *oldPath)
		if err != nil {
			return fmt.Errorf("load old plan: %w", err)
		}
		oldResult = r
		return nil
	})
	g.Go(func() error {
		r, err := analyzeFile(s, *newPath)
		if err != nil {
			return fmt.Errorf("load new plan: %w", err)
		}
		newResult = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if oldResult.Empty() || newResult.Empty() {
		return fmt.Errorf("diff: both documents must contain a plan")
	}

	report, err := diff.Compare(oldResult.Analysis, newResult.Analysis)
	if err != nil {
		return err
	}

	var content []byte
	switch *format {
	case "md", "markdown":
		content = []byte(report.Markdown())
	case "json":
		payload, err := report.JSON()
		if err != nil {
			return err
		}
		content = append(payload, '\n')
	case "tui":
		var buf bytes.Buffer
		if err := tui.RenderDiff(&buf, report, tui.Options{EnableColor: *color}); err != nil {
			return err
		}
		content = buf.Bytes()
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
	if err := writeOutput(*output, content); err != nil {
		return err
	}
	return e.close()
}

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	short := fs.Bool("short", false, "Print only the version number")

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	v, meta := resolveVersion()
	if *short {
		fmt.Println(v)
		return nil
	}
	if meta != "" {
		fmt.Printf("planwise %s (%s)\n", v, meta)
	} else {
		fmt.Printf("planwise %s\n", v)
	}
	return nil
}

func resolveVersion() (string, string) {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}

	var commit, buildTime string
	var dirty bool
	if info, ok := debug.ReadBuildInfo(); ok {
		if (v == "dev" || v == "(devel)") &&
			info.Main.Version != "" &&
			info.Main.Version != "(devel)" &&
			!strings.HasPrefix(info.Main.Version, "v0.0.0-") {
			v = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}

	var details []string
	if commit != "" {
		short := commit
		if len(short) > 12 {
			short = short[:12]
		}
		if dirty {
			short += "*"
		}
		details = append(details, fmt.Sprintf("commit %s", short))
	} else if dirty {
		details = append(details, "modified workspace")
	}
	if buildTime != "" {
		details = append(details, fmt.Sprintf("built %s", buildTime))
	}

	return v, strings.Join(details, ", ")
}

func analyzeFile(s *session.Session, path string) (*session.Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	return s.Analyze(file)
}

func indentJSON(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeOutput(path string, content []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(content)
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
