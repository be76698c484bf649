package validation

import (
	"fmt"
	"sort"

	"github.com/strandhq/strand/pkg/schema"
)

// validateDAG performs graph analysis on the edge graph: cycle detection
// (Kahn's algorithm) and dead-node reachability (BFS from roots).
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	// out[id] = successors of node id, inDegree counts incoming edges.
	out := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	seenEdge := make(map[[2]string]bool, len(def.Edges))
	for _, e := range def.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue // invalid refs already caught by semantic
		}
		key := [2]string{e.Source, e.Target}
		if seenEdge[key] {
			continue // parallel handles count once for graph shape
		}
		seenEdge[key] = true
		out[e.Source] = append(out[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// Kahn's algorithm for cycle detection.
	queue := make([]string, 0, len(def.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)
	roots := make([]string, len(queue))
	copy(roots, queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range out[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(nodeIDs) {
		result.AddError("edges", schema.ErrCodeCycleDetected, "workflow graph contains a cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from roots through forward edges.
	reachable := make(map[string]bool, len(nodeIDs))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}
	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, succ := range out[node] {
			if !reachable[succ] {
				reachable[succ] = true
				bfsQueue = append(bfsQueue, succ)
			}
		}
	}

	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any root node", n.ID))
		}
	}

	return result
}
