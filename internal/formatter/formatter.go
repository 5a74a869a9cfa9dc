// Package formatter renders version graphs, migration plans and database
// status as text tables or markdown.
package formatter

import (
	"fmt"

	"github.com/tordrt/schemaver/internal/graph"
	"github.com/tordrt/schemaver/internal/migrate"
)

// Formatter renders schemaver reports to one destination.
type Formatter interface {
	FormatGraph(g *graph.Graph) error
	FormatPlan(p *Plan) error
	FormatStatus(s *migrate.Status) error
}

// Plan is a migration path resolved to its transitions.
type Plan struct {
	Migration graph.Migration
	Direction graph.Direction
	Steps     []*graph.Transition
}

// NewPlan resolves m against g.
func NewPlan(g *graph.Graph, m graph.Migration, dir graph.Direction) (*Plan, error) {
	steps, err := g.Steps(m)
	if err != nil {
		return nil, err
	}
	return &Plan{Migration: m, Direction: dir, Steps: steps}, nil
}

// stepName is the base file name of step i (zero-based) of a plan.
func stepName(i int, t *graph.Transition) string {
	return fmt.Sprintf("%02d_%s", i+1, t.Name())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func directionOf(t *graph.Transition) string {
	if t.Upgrade() {
		return graph.UpgradeOnly.String()
	}
	return graph.DowngradeOnly.String()
}
