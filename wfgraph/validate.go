package wfgraph

import (
	"errors"
	"fmt"
)

// Validation errors returned by ValidateTemplate. Callers (package registry)
// map these to admission-time rejections (spec.md §7: "never admitted into
// the scheduler").
var (
	ErrDuplicateNodeID = errors.New("workflow template has duplicate node ids")
	ErrNotDAG          = errors.New("workflow template must be a valid DAG")
	ErrUnknownNode     = errors.New("workflow edge references a node that does not exist")
	ErrSelfLoop        = errors.New("workflow edge cannot self-reference")
	ErrTooManyNodes    = errors.New("workflow template exceeds the maximum node count")
	ErrEmptyNodeID     = errors.New("workflow node id must not be empty")
	ErrNodeIDTooLong   = errors.New("workflow node id exceeds 80 characters")
)

// MaxNodes is the upper bound on nodes in a single template (spec.md §3).
const MaxNodes = 30

// ValidateTemplate checks structural validity: unique, well-formed node ids,
// edges that reference existing nodes, no self-loops, and an acyclic graph.
// It returns the topological order on success.
func ValidateTemplate(t WorkflowTemplate) ([]string, error) {
	if len(t.Nodes) == 0 {
		return nil, fmt.Errorf("%w: template has no nodes", ErrNotDAG)
	}
	if len(t.Nodes) > MaxNodes {
		return nil, ErrTooManyNodes
	}

	seen := make(map[string]bool, len(t.Nodes))
	nodeIDs := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ID == "" {
			return nil, ErrEmptyNodeID
		}
		if len(n.ID) > 80 {
			return nil, fmt.Errorf("%w: %q", ErrNodeIDTooLong, n.ID)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = true
		nodeIDs = append(nodeIDs, n.ID)
	}

	for _, e := range t.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			return nil, fmt.Errorf("%w: %s->%s", ErrUnknownNode, e.Source, e.Target)
		}
		if e.Source == e.Target {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, e.Source)
		}
	}

	order, ok := TopologicalOrder(nodeIDs, t.Edges)
	if !ok {
		return nil, ErrNotDAG
	}
	return order, nil
}

// TopologicalOrder runs Kahn's algorithm over nodeIDs/edges. The second
// return value is false when the graph contains a cycle (or an edge
// references an id outside nodeIDs).
//
// Ported from the original implementation's `_topological_order`: a plain
// indegree-queue walk. Roots are queued in input node order and every later
// node in the order its last incoming edge is processed, so scheduling stays
// deterministic across runs of the same template.
func TopologicalOrder(nodeIDs []string, edges []Edge) ([]string, bool) {
	indegree := make(map[string]int, len(nodeIDs))
	adjacency := make(map[string][]string, len(nodeIDs))
	for _, id := range nodeIDs {
		indegree[id] = 0
		adjacency[id] = nil
	}

	for _, e := range edges {
		if _, ok := adjacency[e.Source]; !ok {
			return nil, false
		}
		if _, ok := indegree[e.Target]; !ok {
			return nil, false
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		indegree[e.Target]++
	}

	queue := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]string, 0, len(nodeIDs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, id)
		for _, target := range adjacency[id] {
			indegree[target]--
			if indegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if len(ordered) != len(nodeIDs) {
		return nil, false
	}
	return ordered, true
}

// BuildEdgeIndex groups edges by source and by target for O(1) lookup during
// scheduling.
func BuildEdgeIndex(edges []Edge) (incoming, outgoing map[string][]Edge) {
	incoming = make(map[string][]Edge)
	outgoing = make(map[string][]Edge)
	for _, e := range edges {
		incoming[e.Target] = append(incoming[e.Target], e)
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}
	return incoming, outgoing
}
