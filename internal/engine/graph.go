package engine

import (
	"github.com/strandhq/strand/pkg/schema"
)

// Graph is the compiled, immutable form of a workflow definition: validated
// nodes, forward adjacency, and the order nodes are dispatched in.
type Graph struct {
	Nodes map[string]*schema.Node
	Order []string

	out map[string][]schema.Edge
}

// CompileGraph validates a workflow definition and builds the dispatch graph.
// The definition's execution_order is used when it is a complete, valid
// ordering of the nodes; otherwise dispatch falls back to declaration order.
func CompileGraph(def *schema.WorkflowDefinition) (*Graph, error) {
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	g := &Graph{
		Nodes: make(map[string]*schema.Node, len(def.Nodes)),
		out:   make(map[string][]schema.Edge),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "node with empty id")
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		g.Nodes[n.ID] = n
	}

	for _, e := range def.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown source %q", e.Source)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown target %q", e.Target)
		}
		g.out[e.Source] = append(g.out[e.Source], e)
	}

	if validOrder(def.ExecutionOrder, g.Nodes, def.Edges) {
		g.Order = def.ExecutionOrder
	} else {
		order := make([]string, 0, len(def.Nodes))
		for i := range def.Nodes {
			order = append(order, def.Nodes[i].ID)
		}
		g.Order = order
	}

	return g, nil
}

// validOrder reports whether order covers exactly the known node set with no
// duplicates or strangers, and respects the edges: a node may only appear
// after every node with an edge into it.
func validOrder(order []string, nodes map[string]*schema.Node, edges []schema.Edge) bool {
	if len(order) != len(nodes) {
		return false
	}
	in := make(map[string][]string, len(nodes))
	for _, e := range edges {
		in[e.Target] = append(in[e.Target], e.Source)
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, ok := nodes[id]; !ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		for _, src := range in[id] {
			if _, ok := seen[src]; !ok {
				return false
			}
		}
		seen[id] = struct{}{}
	}
	return true
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *schema.Node {
	return g.Nodes[id]
}

// EdgesFrom returns the outgoing edges of a node whose handle matches.
// An empty handle and "default" are interchangeable on both sides.
func (g *Graph) EdgesFrom(nodeID, handle string) []schema.Edge {
	var edges []schema.Edge
	for _, e := range g.out[nodeID] {
		if handleMatches(e.Handle, handle) {
			edges = append(edges, e)
		}
	}
	return edges
}

// OutEdges returns all outgoing edges of a node regardless of handle.
func (g *Graph) OutEdges(nodeID string) []schema.Edge {
	return g.out[nodeID]
}

func handleMatches(edgeHandle, want string) bool {
	if edgeHandle == "" {
		edgeHandle = schema.HandleDefault
	}
	if want == "" {
		want = schema.HandleDefault
	}
	return edgeHandle == want
}

// DownstreamClosure returns every node reachable from the start set,
// including the starts themselves. A breadth-first walk with a visited set
// keeps it terminating on cyclic graphs.
func (g *Graph) DownstreamClosure(startIDs []string) map[string]struct{} {
	closure := make(map[string]struct{}, len(startIDs))
	queue := make([]string, 0, len(startIDs))

	for _, id := range startIDs {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		if _, seen := closure[id]; seen {
			continue
		}
		closure[id] = struct{}{}
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.out[id] {
			if _, seen := closure[e.Target]; seen {
				continue
			}
			closure[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}

	return closure
}
