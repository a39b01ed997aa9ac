/*
tree.go - Department arena and traversal

PURPOSE:
  Holds the department hierarchy as an arena of nodes indexed by position,
  with a parent→children adjacency list built once at construction. All
  traversals are iterative and carry a visited set, so even a corrupt tree
  cannot make them loop.

CONSTRUCTION CHECKS:
  - Duplicate department ids         → ErrDuplicateDept
  - Parent id that is not in the set → ErrUnknownParent
  - Category outside the closed set  → ErrUnknownCategory
  - Parent chain that loops          → ErrCycle

  Each of these is an integrity fault: NewTree refuses to build rather than
  returning a partial tree.

SEE ALSO:
  - roster.go: Users by department, manager lookup
  - resolver.go: Uses Descendants for subordinate views
*/
package org

import (
	"fmt"
	"sort"
)

// Tree is an immutable department hierarchy.
type Tree struct {
	nodes    []Department
	index    map[DepartmentID]int
	parent   []int // -1 for roots
	children [][]int
}

// NewTree validates departments and builds the arena.
func NewTree(departments []Department) (*Tree, error) {
	t := &Tree{
		nodes:    make([]Department, len(departments)),
		index:    make(map[DepartmentID]int, len(departments)),
		parent:   make([]int, len(departments)),
		children: make([][]int, len(departments)),
	}

	// Stable order keeps traversal output deterministic.
	sorted := append([]Department(nil), departments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, d := range sorted {
		if _, dup := t.index[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDept, d.ID)
		}
		if !d.Category.Valid() {
			return nil, &CategoryError{Department: d.ID, Code: string(d.Category)}
		}
		t.nodes[i] = d
		t.index[d.ID] = i
	}

	for i, d := range t.nodes {
		t.parent[i] = -1
		if d.ParentID == nil {
			continue
		}
		p, ok := t.index[*d.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownParent, d.ID, *d.ParentID)
		}
		t.parent[i] = p
		t.children[p] = append(t.children[p], i)
	}

	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkAcyclic walks every parent chain. Colors: 0 unvisited, 1 on the current
// chain, 2 known to reach a root.
func (t *Tree) checkAcyclic() error {
	color := make([]uint8, len(t.nodes))
	for start := range t.nodes {
		var chain []int
		i := start
		for i != -1 && color[i] == 0 {
			color[i] = 1
			chain = append(chain, i)
			i = t.parent[i]
		}
		if i != -1 && color[i] == 1 {
			path := make([]DepartmentID, 0, len(chain))
			for _, c := range chain {
				path = append(path, t.nodes[c].ID)
			}
			return &CycleError{Department: t.nodes[i].ID, Path: path}
		}
		for _, c := range chain {
			color[c] = 2
		}
	}
	return nil
}

// Len returns the number of departments.
func (t *Tree) Len() int { return len(t.nodes) }

// Department returns the department with the given id.
func (t *Tree) Department(id DepartmentID) (Department, bool) {
	i, ok := t.index[id]
	if !ok {
		return Department{}, false
	}
	return t.nodes[i], true
}

// Departments returns every department, ordered by id.
func (t *Tree) Departments() []Department {
	return append([]Department(nil), t.nodes...)
}

// Parent returns the parent of id, if any.
func (t *Tree) Parent(id DepartmentID) (Department, bool) {
	i, ok := t.index[id]
	if !ok || t.parent[i] == -1 {
		return Department{}, false
	}
	return t.nodes[t.parent[i]], true
}

// Children returns the direct children of id.
func (t *Tree) Children(id DepartmentID) []Department {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	out := make([]Department, 0, len(t.children[i]))
	for _, c := range t.children[i] {
		out = append(out, t.nodes[c])
	}
	return out
}

// Descendants returns id and every department whose parent chain reaches it.
// Breadth-first; the first element is id itself.
func (t *Tree) Descendants(id DepartmentID) []DepartmentID {
	start, ok := t.index[id]
	if !ok {
		return nil
	}
	visited := make(map[int]bool)
	queue := []int{start}
	var out []DepartmentID
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if visited[i] {
			continue
		}
		visited[i] = true
		out = append(out, t.nodes[i].ID)
		queue = append(queue, t.children[i]...)
	}
	return out
}

// Ancestors returns the parent chain of id, nearest first, excluding id.
func (t *Tree) Ancestors(id DepartmentID) []DepartmentID {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	visited := map[int]bool{i: true}
	var out []DepartmentID
	for p := t.parent[i]; p != -1 && !visited[p]; p = t.parent[p] {
		visited[p] = true
		out = append(out, t.nodes[p].ID)
	}
	return out
}

// Depth returns the number of ancestors of id.
func (t *Tree) Depth(id DepartmentID) int {
	return len(t.Ancestors(id))
}
