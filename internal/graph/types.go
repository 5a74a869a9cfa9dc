package graph

import (
	"fmt"
	"strings"
)

// State identifies one shape of the database schema. Zero is the empty schema.
type State int64

// Transition is a directed edge between two states.
type Transition struct {
	From State
	To   State

	// Script mutates the schema from the shape of From to the shape of To.
	Script string

	// DataScript migrates or backfills data for the same edge. Optional.
	DataScript string

	// Origin names where the transition was defined, e.g. a file name.
	Origin string
}

// Name returns the conventional "from-to" name of the transition.
func (t *Transition) Name() string {
	return fmt.Sprintf("%d-%d", t.From, t.To)
}

// Upgrade reports whether the transition moves to a higher state.
func (t *Transition) Upgrade() bool {
	return t.From < t.To
}

// Direction restricts which edges a plan may traverse.
type Direction int

const (
	// UpgradeOnly only traverses edges (a,b) with a < b.
	UpgradeOnly Direction = iota
	// DowngradeOnly only traverses edges (a,b) with a > b.
	DowngradeOnly
)

func (d Direction) String() string {
	switch d {
	case UpgradeOnly:
		return "upgrade"
	case DowngradeOnly:
		return "downgrade"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection converts "up"/"upgrade" or "down"/"downgrade" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upgrade":
		return UpgradeOnly, nil
	case "down", "downgrade":
		return DowngradeOnly, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (must be upgrade or downgrade)", s)
	}
}

// Migration is an ordered path of states. Each consecutive pair is one
// known transition. A migration of length one has nothing to apply.
type Migration []State

// Start returns the first state of the path, or 0 for an empty path.
func (m Migration) Start() State {
	if len(m) == 0 {
		return 0
	}
	return m[0]
}

// End returns the last state of the path, or 0 for an empty path.
func (m Migration) End() State {
	if len(m) == 0 {
		return 0
	}
	return m[len(m)-1]
}

// Steps returns the number of transitions in the path.
func (m Migration) Steps() int {
	if len(m) == 0 {
		return 0
	}
	return len(m) - 1
}

func (m Migration) String() string {
	parts := make([]string, len(m))
	for i, s := range m {
		parts[i] = fmt.Sprint(int64(s))
	}
	return strings.Join(parts, " -> ")
}
