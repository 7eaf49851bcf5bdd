// Package linkorder constructs the directed graph over translation units
// and topologically sorts it to produce the final link order, then emits a
// CodeWarrior-format linker script (spec.md §4.8).
package linkorder

import (
	"fmt"
	"sort"
)

// Edge records that U must link before V: either U contains a
// lower-addressed symbol than V in the same section, or a support-table
// entry in U references a function defined in V.
type Edge struct {
	From, To string
}

// Node is one translation unit as seen by the link orderer: its name and
// the lowest original address any of its claimed ranges started at (used
// as the deterministic tie-break, spec.md §4.8).
type Node struct {
	Name       string
	LowestAddr uint32
}

// ErrCycle is returned when the TU reference graph contains a cycle,
// meaning no valid link order exists.
var ErrCycle = fmt.Errorf("cyclic translation unit reference graph")

// TopoSort performs a stable topological sort over nodes given edges,
// breaking ties (and choosing among multiple simultaneously-ready nodes)
// by ascending LowestAddr, then by name for total determinism.
func TopoSort(nodes []Node, edges []Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	adj := make(map[string][]string)
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		inDegree[n.Name] = 0
		byName[n.Name] = n
	}
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.Name] == 0 {
			ready = append(ready, n.Name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ni, nj := byName[ready[i]], byName[ready[j]]
			if ni.LowestAddr != nj.LowestAddr {
				return ni.LowestAddr < nj.LowestAddr
			}
			return ni.Name < nj.Name
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, to := range adj[next] {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("%w: %d of %d translation units are not reachable in a valid order", ErrCycle, len(nodes)-len(order), len(nodes))
	}
	return order, nil
}
