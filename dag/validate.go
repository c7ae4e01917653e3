package dag

import (
	"fmt"
	"sort"
)

// ValidationResult reports structural checks on a submitted workflow.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`
	CyclePath []string `json:"cycle_path,omitempty"`
	TopoOrder []string `json:"topo_order,omitempty"`
}

// dfs coloring for cycle detection
type nodeColor int

const (
	white nodeColor = iota // unvisited
	grey                   // on the current path
	black                  // fully explored
)

// validate runs every structural check: non-empty, unique ids, no
// self-loops, all dependency targets present, acyclic. On success it fills
// the workflow's adjacency lists and topological order.
func validate(w *Workflow) ValidationResult {
	res := ValidationResult{}

	if len(w.Nodes) == 0 {
		res.Errors = append(res.Errors, "workflow has no nodes")
		return res
	}

	ids := make([]string, 0, len(w.Nodes))
	for id, node := range w.Nodes {
		ids = append(ids, id)
		if node.ID != "" && node.ID != id {
			res.Errors = append(res.Errors, fmt.Sprintf("node key %q does not match node id %q", id, node.ID))
		}
		if node.Type == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q has no type", id))
		}

		seen := make(map[string]bool, len(node.Dependencies))
		for _, dep := range node.Dependencies {
			if dep.ParentID == id {
				res.Errors = append(res.Errors, fmt.Sprintf("node %q depends on itself", id))
				continue
			}
			if _, ok := w.Nodes[dep.ParentID]; !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("node %q depends on unknown node %q", id, dep.ParentID))
				continue
			}
			if seen[dep.ParentID] {
				res.Errors = append(res.Errors, fmt.Sprintf("node %q declares node %q twice", id, dep.ParentID))
			}
			seen[dep.ParentID] = true
			switch dep.Condition {
			case OnSuccess, OnFailure, OnPartialSuccess, Always:
			default:
				res.Errors = append(res.Errors, fmt.Sprintf("node %q has unknown condition %q on edge from %q", id, dep.Condition, dep.ParentID))
			}
		}
	}
	if len(res.Errors) > 0 {
		return res
	}
	// Deterministic traversal order regardless of map iteration
	sort.Strings(ids)

	forward := make(map[string][]string, len(w.Nodes)) // parent -> children
	reverse := make(map[string][]string, len(w.Nodes)) // child -> parents
	for _, id := range ids {
		for _, dep := range w.Nodes[id].Dependencies {
			forward[dep.ParentID] = append(forward[dep.ParentID], id)
			reverse[id] = append(reverse[id], dep.ParentID)
		}
	}

	if path := findCycle(ids, forward); path != nil {
		res.CyclePath = path
		res.Errors = append(res.Errors, fmt.Sprintf("workflow contains a cycle: %v", path))
		return res
	}

	order := topoSort(ids, forward, reverse)
	res.Valid = true
	res.TopoOrder = order

	w.Forward = forward
	w.Reverse = reverse
	w.TopoOrder = order
	return res
}

// findCycle runs a three-color DFS and returns the cycle path when a
// back-edge to a grey node is found, nil otherwise
func findCycle(ids []string, forward map[string][]string) []string {
	colors := make(map[string]nodeColor, len(ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = grey
		stack = append(stack, id)

		for _, child := range forward[id] {
			switch colors[child] {
			case grey:
				// Back-edge: slice the current path from the first
				// occurrence of child and close the loop.
				for i, on := range stack {
					if on == child {
						cycle = append(append([]string(nil), stack[i:]...), child)
						return true
					}
				}
			case white:
				if visit(child) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return false
	}

	for _, id := range ids {
		if colors[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// topoSort is Kahn's algorithm: repeatedly extract in-degree-zero nodes.
// ids must already be validated acyclic.
func topoSort(ids []string, forward map[string][]string, reverse map[string][]string) []string {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(reverse[id])
	}

	var frontier []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		for _, child := range forward[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				frontier = append(frontier, child)
			}
		}
	}
	return order
}
