package formatter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tordrt/schemaver/internal/graph"
)

const (
	formatMarkdown = "markdown"
	formatText     = "text"
)

// MultiFileFormatter writes a plan to a directory: an overview plus one file
// per step, for review before the plan is applied
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// FormatPlan writes the plan to multiple files
func (f *MultiFileFormatter) FormatPlan(p *Plan) error {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeOverview(p); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	for i, t := range p.Steps {
		if err := f.writeStepFile(i, t); err != nil {
			return fmt.Errorf("failed to write step file for %s: %w", t.Name(), err)
		}
	}

	return nil
}

// writeOverview writes the overview file
func (f *MultiFileFormatter) writeOverview(p *Plan) error {
	ext := ".txt"
	if f.OutputFormat == formatMarkdown {
		ext = ".md"
	}
	filename := filepath.Join(f.OutputDir, "_overview"+ext)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		md := NewMarkdownFormatter(file)
		md.formatPlanHeader(p)
		if len(p.Steps) > 0 {
			_, _ = fmt.Fprintf(file, "Each step has a corresponding file: `<step>_<from>-<to>%s`\n\n", f.getFileExtension())
			for i, t := range p.Steps {
				_, _ = fmt.Fprintf(file, "- %s%s\n", stepName(i, t), f.getFileExtension())
			}
		}
		return nil
	}
	return NewTextFormatter(file).FormatPlan(p)
}

// writeStepFile writes a single step to its own file. Text output is the
// plain SQL of the step, runnable as is.
func (f *MultiFileFormatter) writeStepFile(i int, t *graph.Transition) error {
	filename := filepath.Join(f.OutputDir, stepName(i, t)+f.getFileExtension())

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if f.OutputFormat == formatMarkdown {
		NewMarkdownFormatter(file).FormatStep(i, t)
		return nil
	}

	_, _ = fmt.Fprintf(file, "-- step %d: %s\n", i+1, t.Name())
	_, _ = fmt.Fprintln(file, strings.TrimSpace(t.Script))
	if t.DataScript != "" {
		_, _ = fmt.Fprintln(file)
		_, _ = fmt.Fprintln(file, "-- data")
		_, _ = fmt.Fprintln(file, strings.TrimSpace(t.DataScript))
	}
	return nil
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".sql"
}

// ValidFormat reports whether format is "text" or "markdown".
func ValidFormat(format string) bool {
	return format == formatText || format == formatMarkdown
}
