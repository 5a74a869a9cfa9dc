// Package graph holds the version graph of a schema: the known states and the
// scripted transitions between them, and computes migration paths over it.
package graph

import (
	"sort"

	"github.com/joomcode/errorx"

	"github.com/tordrt/schemaver/internal/errs"
)

// Graph is the immutable set of known states and transitions. It is built
// once with New and shared read-only afterwards.
type Graph struct {
	states map[State]struct{}
	edges  map[State]map[State]*Transition
	// targets caches the sorted outgoing targets of each state so that
	// planning visits edges in a stable order.
	targets map[State][]State
	latest  State
}

// New builds a graph from transition definitions. State 0 is always present.
// Two definitions for the same (from, to) pair, a transition from a state to
// itself, or a negative state are configuration errors.
func New(transitions []Transition) (*Graph, error) {
	g := &Graph{
		states:  map[State]struct{}{0: {}},
		edges:   make(map[State]map[State]*Transition),
		targets: make(map[State][]State),
	}

	var problems []error
	for i := range transitions {
		t := transitions[i]
		switch {
		case t.From < 0 || t.To < 0:
			problems = append(problems, errs.Configuration.New("%s: negative schema state", describe(&t)))
			continue
		case t.From == t.To:
			problems = append(problems, errs.Configuration.New("%s: transition to the same state", describe(&t)))
			continue
		case t.Script == "":
			problems = append(problems, errs.Configuration.New("%s: structural script is empty", describe(&t)))
			continue
		}

		out := g.edges[t.From]
		if out == nil {
			out = make(map[State]*Transition)
			g.edges[t.From] = out
		}
		if prev, ok := out[t.To]; ok {
			problems = append(problems, errs.Configuration.New("%s: defined more than once (also %s)", describe(&t), describe(prev)))
			continue
		}
		out[t.To] = &t

		g.states[t.From] = struct{}{}
		g.states[t.To] = struct{}{}
		if t.To > g.latest {
			g.latest = t.To
		}
	}
	if len(problems) > 0 {
		return nil, errorx.DecorateMany("invalid transition definitions", problems...)
	}

	for from, out := range g.edges {
		targets := make([]State, 0, len(out))
		for to := range out {
			targets = append(targets, to)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		g.targets[from] = targets
	}

	return g, nil
}

func describe(t *Transition) string {
	if t.Origin != "" {
		return t.Name() + " (" + t.Origin + ")"
	}
	return t.Name()
}

// Latest returns the highest state any transition leads to, or 0.
func (g *Graph) Latest() State {
	return g.latest
}

// Has reports whether s is a known state.
func (g *Graph) Has(s State) bool {
	_, ok := g.states[s]
	return ok
}

// States returns all known states in ascending order.
func (g *Graph) States() []State {
	out := make([]State, 0, len(g.states))
	for s := range g.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Outgoing returns the transitions leaving s, ordered by target state.
func (g *Graph) Outgoing(s State) []*Transition {
	targets := g.targets[s]
	out := make([]*Transition, 0, len(targets))
	for _, to := range targets {
		out = append(out, g.edges[s][to])
	}
	return out
}

// Transition returns the edge from -> to, if defined.
func (g *Graph) Transition(from, to State) (*Transition, bool) {
	t, ok := g.edges[from][to]
	return t, ok
}

// Transitions returns every transition ordered by (from, to).
func (g *Graph) Transitions() []*Transition {
	var out []*Transition
	for _, s := range g.States() {
		out = append(out, g.Outgoing(s)...)
	}
	return out
}

// Steps resolves a migration path to its transitions.
func (g *Graph) Steps(m Migration) ([]*Transition, error) {
	steps := make([]*Transition, 0, m.Steps())
	for i := 0; i+1 < len(m); i++ {
		t, ok := g.Transition(m[i], m[i+1])
		if !ok {
			return nil, errs.Configuration.New("no transition %d-%d in migration %s", m[i], m[i+1], m)
		}
		steps = append(steps, t)
	}
	return steps, nil
}
