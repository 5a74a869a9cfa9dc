// Package source reads transition definitions from a directory of SQL files.
//
// File names follow a small convention:
//
//	5.sql          structural script for the edge 0 -> 5
//	5-6.sql        structural script for the edge 5 -> 6
//	6-5.sql        structural script for the edge 6 -> 5
//	5-6.data.sql   data script for the edge 5 -> 6 (optional)
//	drop.sql       destructive reset script (optional)
//	grant.sql      privileges re-established after a reset (optional)
//
// Files that do not end in .sql are ignored. Any other .sql name is rejected.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/joomcode/errorx"

	"github.com/tordrt/schemaver/internal/errs"
	"github.com/tordrt/schemaver/internal/graph"
)

const (
	// DropFile holds the destructive reset script.
	DropFile = "drop.sql"
	// GrantFile holds the script run after a reset.
	GrantFile = "grant.sql"
)

var transitionName = regexp.MustCompile(`^(\d+)(?:-(\d+))?(\.data)?\.sql$`)

// Definitions is everything a migrator needs from its source.
type Definitions struct {
	Transitions []graph.Transition
	DropScript  string
	GrantScript string
}

// LoadDir reads definitions from a directory on disk.
func LoadDir(dir string) (*Definitions, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations path %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS reads definitions from dir inside fsys, which may be an embed.FS.
func LoadFS(fsys fs.FS, dir string) (*Definitions, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	defs := &Definitions{}
	type key struct{ from, to graph.State }
	structural := make(map[key]*graph.Transition)
	data := make(map[key]string)
	var order []key
	var problems []error

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		switch name {
		case DropFile:
			defs.DropScript = string(body)
			continue
		case GrantFile:
			defs.GrantScript = string(body)
			continue
		}

		from, to, isData, err := parseName(name)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		k := key{from, to}
		if isData {
			data[k] = string(body)
			continue
		}
		if prev, ok := structural[k]; ok {
			problems = append(problems, errs.Configuration.New("%s: edge %d-%d already defined by %s", name, from, to, prev.Origin))
			continue
		}
		structural[k] = &graph.Transition{
			From:   from,
			To:     to,
			Script: string(body),
			Origin: name,
		}
		order = append(order, k)
	}

	for k := range data {
		if _, ok := structural[k]; !ok {
			problems = append(problems, errs.Configuration.New("data script for %d-%d has no structural script", k.from, k.to))
		}
	}
	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool { return problems[i].Error() < problems[j].Error() })
		return nil, errorx.DecorateMany("invalid migrations", problems...)
	}

	for _, k := range order {
		t := structural[k]
		t.DataScript = data[k]
		defs.Transitions = append(defs.Transitions, *t)
	}
	return defs, nil
}

// parseName decodes "N.sql", "A-B.sql" and their ".data.sql" variants.
// "N.sql" is the edge 0 -> N.
func parseName(name string) (from, to graph.State, isData bool, err error) {
	m := transitionName.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false, errs.Configuration.New("%s: unrecognized migration file name", name)
	}

	first, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false, errs.Configuration.Wrap(err, "%s: invalid version", name)
	}
	if m[2] == "" {
		return 0, graph.State(first), m[3] != "", nil
	}
	second, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, false, errs.Configuration.Wrap(err, "%s: invalid version", name)
	}
	return graph.State(first), graph.State(second), m[3] != "", nil
}
