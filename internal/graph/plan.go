package graph

import (
	"container/heap"
	"math"

	"github.com/tordrt/schemaver/internal/errs"
)

const infinity = math.MaxInt64

// cost of traversing t under direction d: 1 when allowed, infinity otherwise.
func cost(t *Transition, d Direction) int64 {
	switch {
	case t.From == t.To:
		return 0
	case d == UpgradeOnly && t.From < t.To:
		return 1
	case d == DowngradeOnly && t.From > t.To:
		return 1
	default:
		return infinity
	}
}

// Plan computes the path with the fewest transitions from start to end that
// only uses edges moving in direction d. When start == end the path is the
// single state. An unreachable end is a configuration error.
func (g *Graph) Plan(start, end State, d Direction) (Migration, error) {
	if d != UpgradeOnly && d != DowngradeOnly {
		return nil, errs.Configuration.New("unsupported direction %s", d)
	}
	if !g.Has(start) {
		return nil, errs.Configuration.New("unknown start state %d", start)
	}
	if !g.Has(end) {
		return nil, errs.Configuration.New("unknown target state %d", end)
	}
	if start == end {
		return Migration{start}, nil
	}

	dist := map[State]int64{start: 0}
	prev := make(map[State]State)
	done := make(map[State]bool)

	q := &queue{{state: start, cost: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(item)
		if done[cur.state] {
			// stale entry, a cheaper one was already finalized
			continue
		}
		if cur.state == end {
			break
		}
		done[cur.state] = true

		for _, t := range g.Outgoing(cur.state) {
			c := cost(t, d)
			if c == infinity || done[t.To] {
				continue
			}
			candidate := cur.cost + c
			if known, ok := dist[t.To]; ok && known <= candidate {
				continue
			}
			dist[t.To] = candidate
			prev[t.To] = cur.state
			heap.Push(q, item{state: t.To, cost: candidate})
		}
	}

	if _, ok := prev[end]; !ok {
		return nil, errs.Configuration.New("no %s path from state %d to state %d", d, start, end)
	}

	path := Migration{end}
	for s := end; s != start; {
		s = prev[s]
		path = append(path, s)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

type item struct {
	state State
	cost  int64
}

// queue is a min-heap on (cost, state).
type queue []item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].state < q[j].state
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(item)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
