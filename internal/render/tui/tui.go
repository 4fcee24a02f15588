package tui

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/diff"
	"github.com/mickamy/planwise/internal/insight"
	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/session"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor    bool
	MaxDepth       int
	BarWidth       int
	ShowAttributes bool
}

type palette struct {
	red, yellow, cyan, green, bold *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		green:  color.New(color.FgGreen),
		bold:   color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.red, p.yellow, p.cyan, p.green, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Render prints the plan summary, an ASCII tree that highlights hot nodes and
// the numbered narrative with the insights of every operator.
func Render(w io.Writer, result *session.Result, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if result == nil {
		return errors.New("tui: empty result")
	}
	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}
	p := newPalette(opts.EnableColor)

	if result.Empty() {
		for _, entry := range result.Entries {
			_, _ = fmt.Fprintln(w, entry.Sentence)
		}
		return nil
	}

	analysis := result.Analysis
	_, _ = fmt.Fprintf(w, "Execution time %s ms (planning %s ms)\n", analysis.Summary.ExecutionTime, analysis.Summary.PlanningTime)
	_, _ = fmt.Fprintf(w, "Nodes %d | Hot nodes %d\n\n", analysis.Summary.NodeCount, len(analysis.HotNodes))

	renderSummary(w, result, p)

	_, _ = fmt.Fprintf(w, "%s\n", renderLine(analysis.Root, opts, p))
	printChildren(w, analysis.Root, "", 1, opts, p)

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, p.bold.Sprint("Narrative:"))
	for _, entry := range result.Entries {
		_, _ = fmt.Fprintf(w, "%s\n", entry.Sentence)
		if entry.Connective() {
			continue
		}
		if opts.ShowAttributes {
			for _, attr := range entry.Attributes {
				_, _ = fmt.Fprintf(w, "     %s: %s\n", attr.Label, insight.NormalizeWhitespace(firstParagraph(attr.Value)))
			}
		}
		for _, in := range result.NodeInsights(entry.Node) {
			_, _ = fmt.Fprintf(w, "   - %s %s: %s\n", severityIcon(in.Severity, p), in.Label, insight.NormalizeWhitespace(in.Text))
		}
	}
	return nil
}

// RenderDiff prints the aligned scans and joins of two plans.
func RenderDiff(w io.Writer, report *diff.Report, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if report == nil {
		return errors.New("tui: empty diff report")
	}
	p := newPalette(opts.EnableColor)

	_, _ = fmt.Fprintf(w, "Execution time %s ms → %s ms\n", report.Summary.OldExecutionTime, report.Summary.NewExecutionTime)
	_, _ = fmt.Fprintf(w, "Planning time %s ms → %s ms\n", report.Summary.OldPlanningTime, report.Summary.NewPlanningTime)

	for _, category := range report.Categories {
		_, _ = fmt.Fprintf(w, "\n%s\n", p.bold.Sprint(category.Name+":"))
		if len(category.Records) == 0 {
			_, _ = fmt.Fprintln(w, "  (no operators found in both plans)")
			continue
		}
		for _, rec := range category.Records {
			kinds := rec.OldKind
			if rec.KindChanged() {
				kinds = p.yellow.Sprintf("%s → %s", rec.OldKind, rec.NewKind)
			}
			timing := fmt.Sprintf("%.2f ms → %.2f ms", rec.OldTimeMs, rec.NewTimeMs)
			switch {
			case rec.NewTimeMs < rec.OldTimeMs:
				timing = p.green.Sprint(timing)
			case rec.NewTimeMs > rec.OldTimeMs:
				timing = p.red.Sprint(timing)
			}
			_, _ = fmt.Fprintf(w, "  - %s | %s | %s\n", rec.Key, kinds, timing)
			for _, line := range strings.Split(rec.Description, "\n") {
				_, _ = fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
	return nil
}

func renderSummary(w io.Writer, result *session.Result, p palette) {
	summary := result.PlanInsights()
	hot := insight.Hotspot(result.Analysis)
	if len(summary) == 0 && hot == nil {
		return
	}
	_, _ = fmt.Fprintln(w, p.bold.Sprint("Insights:"))
	if hot != nil {
		_, _ = fmt.Fprintf(w, "  - %s %s\n", severityIcon(hot.Severity, p), hot.Text)
	}
	for _, in := range summary {
		_, _ = fmt.Fprintf(w, "  - %s: %s\n", in.Label, in.Text)
	}
	_, _ = fmt.Fprintln(w)
}

func printChildren(w io.Writer, parent *model.PlanNode, prefix string, depth int, opts Options, p palette) {
	for i, child := range parent.Children {
		renderBranch(w, child, prefix, depth, i == len(parent.Children)-1, opts, p)
	}
}

func renderBranch(w io.Writer, node *model.PlanNode, prefix string, depth int, isLast bool, opts Options, p palette) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}

	_, _ = fmt.Fprintf(w, "%s%s%s\n", prefix, connector, renderLine(node, opts, p))

	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		if len(node.Children) > 0 {
			_, _ = fmt.Fprintf(w, "%s`-- ... (%d more nodes)\n", childPrefix, countDescendants(node))
		}
		return
	}

	printChildren(w, node, childPrefix, depth+1, opts, p)
}

func renderLine(node *model.PlanNode, opts Options, p palette) string {
	share := analyzer.TimeShare(node)

	parts := []string{
		insight.NodeLabel(node),
		fmt.Sprintf("self %.2f ms", node.ActualOpCost),
		fmt.Sprintf("%5.1f%%", share*100),
		colorize(drawBar(share, opts.BarWidth), share, p),
		fmt.Sprintf("cost %.2f", node.OpCost),
	}
	if node.PlanRows > 0 || node.ActualRows > 0 {
		parts = append(parts, fmt.Sprintf("rows %s/%s", formatRows(node.ActualRows), formatRows(node.PlanRows)))
	}
	return strings.Join(parts, " | ")
}

func formatRows(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := math.Max(0, math.Min(1, ratio))
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func colorize(bar string, ratio float64, p palette) string {
	switch {
	case ratio >= 0.40:
		return p.red.Sprint(bar)
	case ratio >= 0.20:
		return p.yellow.Sprint(bar)
	case ratio >= 0.10:
		return p.cyan.Sprint(bar)
	default:
		return bar
	}
}

func countDescendants(node *model.PlanNode) int {
	total := 0
	node.Walk(func(*model.PlanNode) { total++ })
	return total - 1
}

func firstParagraph(s string) string {
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func severityIcon(sev insight.Severity, p palette) string {
	switch sev {
	case insight.SeverityCritical:
		return p.red.Sprint("🔥")
	case insight.SeverityWarning:
		return p.yellow.Sprint("⚠️")
	default:
		return "ℹ️"
	}
}
