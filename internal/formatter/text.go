package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/tordrt/schemaver/internal/graph"
	"github.com/tordrt/schemaver/internal/migrate"
)

// TextFormatter formats reports as compact text tables
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

func (f *TextFormatter) table(header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(f.writer)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// FormatGraph lists the known states and every transition
func (f *TextFormatter) FormatGraph(g *graph.Graph) error {
	states := make([]string, 0, len(g.States()))
	for _, s := range g.States() {
		states = append(states, fmt.Sprint(int64(s)))
	}
	_, _ = fmt.Fprintf(f.writer, "STATES %s (latest %d)\n", strings.Join(states, ", "), g.Latest())

	transitions := g.Transitions()
	if len(transitions) == 0 {
		_, _ = fmt.Fprintln(f.writer, "NO TRANSITIONS")
		return nil
	}
	_, _ = fmt.Fprintln(f.writer)

	t := f.table([]string{"from", "to", "direction", "data", "origin"})
	for _, tr := range transitions {
		t.Append([]string{
			fmt.Sprint(int64(tr.From)),
			fmt.Sprint(int64(tr.To)),
			directionOf(tr),
			yesNo(tr.DataScript != ""),
			tr.Origin,
		})
	}
	t.Render()
	return nil
}

// FormatPlan writes the path followed by one row per step
func (f *TextFormatter) FormatPlan(p *Plan) error {
	_, _ = fmt.Fprintf(f.writer, "PLAN %s (%s, %d steps)\n", p.Migration, p.Direction, len(p.Steps))
	if len(p.Steps) == 0 {
		_, _ = fmt.Fprintln(f.writer, "NOTHING TO APPLY")
		return nil
	}
	_, _ = fmt.Fprintln(f.writer)

	t := f.table([]string{"step", "from", "to", "data", "origin"})
	for i, tr := range p.Steps {
		t.Append([]string{
			fmt.Sprint(i + 1),
			fmt.Sprint(int64(tr.From)),
			fmt.Sprint(int64(tr.To)),
			yesNo(tr.DataScript != ""),
			tr.Origin,
		})
	}
	t.Render()
	return nil
}

// FormatStatus writes the current and latest state of the database
func (f *TextFormatter) FormatStatus(s *migrate.Status) error {
	pending := "unreachable by upgrades"
	switch {
	case s.UpToDate():
		pending = "none"
	case s.Pending != nil:
		pending = s.Pending.String()
	}

	t := f.table([]string{"database", "current", "latest", "pending"})
	t.Append([]string{s.Dialect, fmt.Sprint(int64(s.Current)), fmt.Sprint(int64(s.Latest)), pending})
	t.Render()
	return nil
}
