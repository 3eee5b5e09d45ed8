package graph

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// pathArrow joins task texts when rendering a cycle for diagnostics.
const pathArrow = " → "

// pathTextLimit caps each task's text in a rendered cycle path.
const pathTextLimit = 50

// DetectCycle checks whether the union of existing and proposed edges admits
// a topological order. If not, it returns one cycle as an ordered id list
// with the start id repeated at the end to denote closure; otherwise nil.
//
// The walk is deterministic: roots and adjacency lists are visited in id
// order, so the same input always yields the same witness. A self-edge is a
// cycle of length one. O(V+E).
func DetectCycle(existing, proposed []EdgeRef) []uuid.UUID {
	adj := make(map[uuid.UUID][]uuid.UUID)
	var nodes []uuid.UUID
	known := make(map[uuid.UUID]bool)

	addNode := func(id uuid.UUID) {
		if !known[id] {
			known[id] = true
			nodes = append(nodes, id)
		}
	}

	for _, set := range [][]EdgeRef{existing, proposed} {
		for _, e := range set {
			addNode(e.Source)
			addNode(e.Target)
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	sortIDs(nodes)
	for _, targets := range adj {
		sortIDs(targets)
	}

	const (
		white = iota
		gray
		black
	)

	color := make(map[uuid.UUID]int, len(nodes))
	var stack []uuid.UUID

	var dfs func(u uuid.UUID) []uuid.UUID
	dfs = func(u uuid.UUID) []uuid.UUID {
		color[u] = gray
		stack = append(stack, u)

		for _, v := range adj[u] {
			if color[v] == gray {
				// v is on the recursion stack: close the walk at v
				for i, id := range stack {
					if id == v {
						cycle := make([]uuid.UUID, 0, len(stack)-i+1)
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, v)
						return cycle
					}
				}
			}
			if color[v] == white {
				if cycle := dfs(v); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[u] = black
		return nil
	}

	for _, root := range nodes {
		if color[root] == white {
			if cycle := dfs(root); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return strings.Compare(ids[i].String(), ids[j].String()) < 0
	})
}

// renderCyclePath turns a cycle id path into a human-readable task-text
// chain. Only persisted tasks are rendered (candidates in flight have no
// stored text the caller could act on), and the chain is rotated to start at
// the oldest task so the same cycle always reads the same way.
func renderCyclePath(path []uuid.UUID, tasksByID map[uuid.UUID]*Task) string {
	if len(path) < 2 {
		return ""
	}

	ring := path[:len(path)-1] // drop the closing repeat

	var persisted []*Task
	for _, id := range ring {
		if t, ok := tasksByID[id]; ok {
			persisted = append(persisted, t)
		}
	}

	if len(persisted) == 0 {
		// Nothing persisted to name; fall back to raw ids
		parts := make([]string, 0, len(path))
		for _, id := range path {
			parts = append(parts, id.String())
		}
		return strings.Join(parts, pathArrow)
	}

	start := 0
	for i, t := range persisted {
		if earlierTask(t, persisted[start]) {
			start = i
		}
	}

	parts := make([]string, 0, len(persisted)+1)
	for i := 0; i < len(persisted); i++ {
		t := persisted[(start+i)%len(persisted)]
		parts = append(parts, truncateText(t.Text, pathTextLimit))
	}
	parts = append(parts, parts[0])

	return strings.Join(parts, pathArrow)
}

func earlierTask(a, b *Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
