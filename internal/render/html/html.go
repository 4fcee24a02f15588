package html

import (
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/Masterminds/sprig/v3"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/insight"
	"github.com/mickamy/planwise/internal/model"
	"github.com/mickamy/planwise/internal/session"
)

// Options configures the HTML renderer.
type Options struct {
	Title         string
	IncludeStyles bool
}

var reportTpl = template.Must(template.New("report").Funcs(sprig.HtmlFuncMap()).Parse(reportTemplate))

// Render writes an HTML report containing the plan summary, the numbered
// narrative with expandable operator details and an annotated tree.
func Render(w io.Writer, result *session.Result, opts Options) error {
	if result == nil {
		return fmt.Errorf("html render: empty result")
	}
	if opts.Title == "" {
		opts.Title = "planwise report"
	}
	if err := reportTpl.Execute(w, buildTemplateData(result, opts)); err != nil {
		return fmt.Errorf("html render: execute template: %w", err)
	}
	return nil
}

type templateData struct {
	Title         string
	IncludeStyles bool
	Empty         bool
	Summary       summaryView
	Insights      []insightView
	Entries       []entryView
	Root          *nodeView
}

type summaryView struct {
	ExecutionTime string
	PlanningTime  string
	NodeCount     int
	HotCount      int
}

type insightView struct {
	Icon     string
	Severity string
	Label    string
	Text     string
	Anchor   string
}

type attributeView struct {
	Label string
	Value string
}

type entryView struct {
	Sentence   string
	Anchor     string
	Connective bool
	Attributes []attributeView
	Insights   []insightView
}

type nodeView struct {
	Label    string
	Anchor   string
	Self     string
	Share    string
	Cost     string
	BarWidth float64
	Heat     float64
	Rows     string
	Children []*nodeView
}

func buildTemplateData(result *session.Result, opts Options) templateData {
	data := templateData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Empty:         result.Empty(),
	}
	for _, entry := range result.Entries {
		view := entryView{Sentence: entry.Sentence, Connective: entry.Connective()}
		if !entry.Connective() {
			view.Anchor = insight.AnchorID(entry.Node)
			for _, attr := range entry.Attributes {
				view.Attributes = append(view.Attributes, attributeView{Label: attr.Label, Value: attr.Value})
			}
			view.Insights = insightViews(result.NodeInsights(entry.Node))
		}
		data.Entries = append(data.Entries, view)
	}
	if result.Empty() {
		return data
	}

	analysis := result.Analysis
	data.Summary = summaryView{
		ExecutionTime: analysis.Summary.ExecutionTime + " ms",
		PlanningTime:  analysis.Summary.PlanningTime + " ms",
		NodeCount:     analysis.Summary.NodeCount,
		HotCount:      len(analysis.HotNodes),
	}
	if hot := insight.Hotspot(analysis); hot != nil {
		data.Insights = append(data.Insights, insightViews(insight.Insights{*hot})...)
	}
	data.Insights = append(data.Insights, insightViews(result.PlanInsights())...)
	data.Root = buildNodeView(analysis.Root)
	return data
}

func insightViews(in insight.Insights) []insightView {
	out := make([]insightView, 0, len(in))
	for _, i := range in {
		out = append(out, insightView{
			Icon:     severityIcon(i.Severity),
			Severity: string(i.Severity),
			Label:    i.Label,
			Text:     i.Text,
			Anchor:   i.Anchor,
		})
	}
	return out
}

func buildNodeView(node *model.PlanNode) *nodeView {
	share := analyzer.TimeShare(node)
	view := &nodeView{
		Label:    insight.NodeLabel(node),
		Anchor:   insight.AnchorID(node),
		Self:     fmt.Sprintf("%.2f ms", node.ActualOpCost),
		Share:    fmt.Sprintf("%.1f%%", share*100),
		Cost:     fmt.Sprintf("cost %.2f", node.OpCost),
		BarWidth: math.Min(100, math.Max(0, share*100)),
		Heat:     math.Min(1, math.Max(0, share*2.5)),
		Rows:     formatRows(node),
	}
	for _, child := range node.Children {
		view.Children = append(view.Children, buildNodeView(child))
	}
	return view
}

func formatRows(node *model.PlanNode) string {
	if node.PlanRows == 0 && node.ActualRows == 0 {
		return ""
	}
	return fmt.Sprintf("rows %.0f / %.0f", node.ActualRows, node.PlanRows)
}

func severityIcon(sev insight.Severity) string {
	switch sev {
	case insight.SeverityCritical:
		return "🔥"
	case insight.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f4f5f7; color: #1f2430; }
		header { background: #1f2a3d; color: #f4f5f7; padding: 28px 24px; }
		header h1 { margin: 0 0 6px; font-size: 26px; }
		main { max-width: 980px; margin: 0 auto; padding: 28px 24px 48px; }
		section { margin-top: 28px; }
		.insight-list, .narrative, .plan-tree { list-style: none; margin: 0; padding: 0; }
		.insight-list li { background: #fff; border-radius: 10px; padding: 12px 14px; margin-bottom: 8px; box-shadow: 0 3px 10px rgba(13,28,39,0.08); }
		.severity-critical { border-left: 4px solid #e5484d; }
		.severity-warning { border-left: 4px solid #f5a524; }
		.severity-info { border-left: 4px solid rgba(31,42,61,0.15); }
		.narrative li { background: #fff; border-radius: 10px; padding: 12px 16px; margin-bottom: 10px; }
		.narrative li.connective { background: transparent; font-style: italic; color: #52607a; }
		.narrative table { border-collapse: collapse; margin-top: 8px; font-size: 13px; }
		.narrative th { text-align: left; vertical-align: top; padding: 4px 12px 4px 0; color: #52607a; white-space: nowrap; }
		.narrative td p { margin: 0 0 4px; }
		.node-card { background: #fff; border-radius: 10px; margin-bottom: 10px; padding: 12px 16px; position: relative; box-shadow: 0 6px 16px rgba(16,37,58,0.10); }
		.node-card::after { content: ""; position: absolute; inset: 0; border-radius: inherit; background: linear-gradient(90deg, rgba(229,72,77,var(--heat)) 0%, rgba(229,72,77,0) 70%); opacity: 0.3; pointer-events: none; }
		.node-header { display: flex; justify-content: space-between; gap: 12px; }
		.node-label { font-weight: 600; }
		.node-metrics { font-size: 13px; color: #52607a; }
		.node-bar { margin-top: 8px; background: rgba(31,42,61,0.08); border-radius: 999px; height: 6px; overflow: hidden; }
		.node-bar span { display: block; height: 100%; background: linear-gradient(90deg, #e5484d 0%, #f5a524 100%); width: calc(var(--width) * 1%); }
		.node-children { margin-left: 22px; border-left: 1px dashed rgba(31,42,61,0.2); padding-left: 18px; list-style: none; }
	</style>
	{{- end }}
</head>
<body>
	<header>
		<h1>{{.Title}}</h1>
		{{- if not .Empty }}
		<p>Execution {{.Summary.ExecutionTime}} · Planning {{.Summary.PlanningTime}} · Nodes {{.Summary.NodeCount}} · Hot {{.Summary.HotCount}}</p>
		{{- end }}
	</header>
	<main>
		{{- if .Insights }}
		<section>
			<h2>Insights</h2>
			<ul class="insight-list">
				{{- range .Insights }}
				<li class="severity-{{.Severity | default "info"}}">{{.Icon}} <strong>{{.Label}}</strong>:
					{{- if .Anchor }} <a href="#{{.Anchor}}">{{.Text}}</a>{{ else }} {{.Text}}{{ end -}}
				</li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		<section>
			<h2>Narrative</h2>
			<ol class="narrative">
				{{- range .Entries }}
				{{- if .Connective }}
				<li class="connective">{{.Sentence}}</li>
				{{- else }}
				<li id="{{.Anchor}}">
					<details>
						<summary>{{.Sentence}}</summary>
						{{- if .Insights }}
						<ul class="insight-list">
							{{- range .Insights }}
							<li class="severity-{{.Severity}}">{{.Icon}} <strong>{{.Label}}</strong>:{{ range splitList "\n\n" .Text }} {{ . }}{{ end }}</li>
							{{- end }}
						</ul>
						{{- end }}
						<table>
							{{- range .Attributes }}
							<tr><th>{{.Label}}</th><td>{{ range splitList "\n\n" .Value }}<p>{{ trim . }}</p>{{ end }}</td></tr>
							{{- end }}
						</table>
					</details>
				</li>
				{{- end }}
				{{- end }}
			</ol>
		</section>

		{{- if .Root }}
		<section>
			<h2>Plan Tree</h2>
			<ul class="plan-tree">
				{{ template "node" .Root }}
			</ul>
		</section>
		{{- end }}
	</main>

	{{ define "node" }}
	<li>
		<div class="node-card" style="--heat: {{printf "%.3f" .Heat}};">
			<div class="node-header">
				<a class="node-label" href="#{{.Anchor}}">{{.Label}}</a>
				<span class="node-metrics">{{.Self}} · {{.Share}} · {{.Cost}}{{ if .Rows }} · {{.Rows}}{{ end }}</span>
			</div>
			<div class="node-bar"><span style="--width: {{printf "%.2f" .BarWidth}};"></span></div>
		</div>
		{{- if .Children }}
		<ul class="node-children">
			{{- range .Children }}
				{{ template "node" . }}
			{{- end }}
		</ul>
		{{- end }}
	</li>
	{{ end }}
</body>
</html>
`
