package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/schemaver/internal/graph"
	"github.com/tordrt/schemaver/internal/migrate"
)

// MarkdownFormatter formats reports as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// FormatGraph writes the states and transitions of g
func (f *MarkdownFormatter) FormatGraph(g *graph.Graph) error {
	_, _ = fmt.Fprintln(f.writer, "# Version Graph")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintf(f.writer, "Latest version: **%d**\n\n", g.Latest())

	_, _ = fmt.Fprintln(f.writer, "## States")
	_, _ = fmt.Fprintln(f.writer)
	for _, s := range g.States() {
		out := g.Outgoing(s)
		if len(out) == 0 {
			_, _ = fmt.Fprintf(f.writer, "- **%d**\n", s)
			continue
		}
		targets := make([]string, 0, len(out))
		for _, t := range out {
			targets = append(targets, fmt.Sprint(int64(t.To)))
		}
		_, _ = fmt.Fprintf(f.writer, "- **%d** → %s\n", s, strings.Join(targets, ", "))
	}
	_, _ = fmt.Fprintln(f.writer)

	transitions := g.Transitions()
	if len(transitions) > 0 {
		_, _ = fmt.Fprintln(f.writer, "## Transitions")
		_, _ = fmt.Fprintln(f.writer)
		for _, t := range transitions {
			f.formatTransitionLine(t)
		}
		_, _ = fmt.Fprintln(f.writer)
	}
	return nil
}

func (f *MarkdownFormatter) formatTransitionLine(t *graph.Transition) {
	parts := []string{directionOf(t)}
	if t.DataScript != "" {
		parts = append(parts, "with data script")
	}
	if t.Origin != "" {
		parts = append(parts, "`"+t.Origin+"`")
	}
	_, _ = fmt.Fprintf(f.writer, "- **%s:** %s\n", t.Name(), strings.Join(parts, ", "))
}

// FormatPlan writes the path and the scripts of every step
func (f *MarkdownFormatter) FormatPlan(p *Plan) error {
	f.formatPlanHeader(p)
	for i, t := range p.Steps {
		f.FormatStep(i, t)
	}
	return nil
}

func (f *MarkdownFormatter) formatPlanHeader(p *Plan) {
	_, _ = fmt.Fprintln(f.writer, "# Migration Plan")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintf(f.writer, "- **Path:** %s\n", p.Migration)
	_, _ = fmt.Fprintf(f.writer, "- **Direction:** %s\n", p.Direction)
	_, _ = fmt.Fprintf(f.writer, "- **Steps:** %d\n", len(p.Steps))
	_, _ = fmt.Fprintln(f.writer)
}

// FormatStep writes one step of a plan (exported for use by multifile formatter)
func (f *MarkdownFormatter) FormatStep(i int, t *graph.Transition) {
	_, _ = fmt.Fprintf(f.writer, "## Step %d: %d → %d\n\n", i+1, t.From, t.To)
	if t.Origin != "" {
		_, _ = fmt.Fprintf(f.writer, "Source: `%s`\n\n", t.Origin)
	}

	_, _ = fmt.Fprintln(f.writer, "### Structural script")
	_, _ = fmt.Fprintln(f.writer)
	f.formatSQL(t.Script)

	if t.DataScript != "" {
		_, _ = fmt.Fprintln(f.writer, "### Data script")
		_, _ = fmt.Fprintln(f.writer)
		f.formatSQL(t.DataScript)
	}
}

func (f *MarkdownFormatter) formatSQL(script string) {
	_, _ = fmt.Fprintln(f.writer, "```sql")
	_, _ = fmt.Fprintln(f.writer, strings.TrimSpace(script))
	_, _ = fmt.Fprintln(f.writer, "```")
	_, _ = fmt.Fprintln(f.writer)
}

// FormatStatus writes the current and latest state of the database
func (f *MarkdownFormatter) FormatStatus(s *migrate.Status) error {
	_, _ = fmt.Fprintln(f.writer, "# Schema Status")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintf(f.writer, "- **Database:** %s\n", s.Dialect)
	_, _ = fmt.Fprintf(f.writer, "- **Current version:** %d\n", s.Current)
	_, _ = fmt.Fprintf(f.writer, "- **Latest version:** %d\n", s.Latest)
	switch {
	case s.UpToDate():
		_, _ = fmt.Fprintln(f.writer, "- **Pending:** none")
	case s.Pending != nil:
		_, _ = fmt.Fprintf(f.writer, "- **Pending:** %s\n", s.Pending)
	default:
		_, _ = fmt.Fprintln(f.writer, "- **Pending:** latest version is not reachable by upgrades")
	}
	return nil
}
