package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// GraphState is one immutable version of a story graph. Callers must not
// mutate a GraphState they did not create; transformations return a new value.
type GraphState struct {
	Nodes map[string]Node
	Edges []Edge
}

// NewGraph returns an empty graph.
func NewGraph() *GraphState {
	return &GraphState{Nodes: make(map[string]Node)}
}

// Clone returns a copy whose node map and edge slice can be modified without
// affecting g. Node values and edge properties are shared.
func (g *GraphState) Clone() *GraphState {
	out := &GraphState{
		Nodes: make(map[string]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for id, n := range g.Nodes {
		out.Nodes[id] = n
	}
	copy(out.Edges, g.Edges)
	return out
}

// Node returns the node with the given id.
func (g *GraphState) Node(id string) (Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in sorted order.
func (g *GraphState) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EdgesOfType returns edges of type t in creation order.
func (g *GraphState) EdgesOfType(t EdgeType) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns edges of type t whose source is from, in creation order.
func (g *GraphState) OutgoingEdges(from string, t EdgeType) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == from && e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type graphJSON struct {
	Nodes map[string]json.RawMessage `json:"nodes"`
	Edges []Edge                     `json:"edges"`
}

// MarshalJSON encodes nodes keyed by id (each with its type tag) and edges in order.
func (g *GraphState) MarshalJSON() ([]byte, error) {
	out := graphJSON{
		Nodes: make(map[string]json.RawMessage, len(g.Nodes)),
		Edges: g.Edges,
	}
	if out.Edges == nil {
		out.Edges = []Edge{}
	}
	for id, n := range g.Nodes {
		raw, err := MarshalNode(n)
		if err != nil {
			return nil, fmt.Errorf("models: encode node %s: %w", id, err)
		}
		out.Nodes[id] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (g *GraphState) UnmarshalJSON(data []byte) error {
	var in graphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("models: decode graph: %w", err)
	}
	g.Nodes = make(map[string]Node, len(in.Nodes))
	for id, raw := range in.Nodes {
		n, err := UnmarshalNode(raw)
		if err != nil {
			return err
		}
		if _, unknown := n.(UnknownNode); unknown {
			return fmt.Errorf("models: node %s: unrecognized type %q", id, n.NodeType())
		}
		if n.NodeID() != id {
			return fmt.Errorf("models: node keyed %q carries id %q", id, n.NodeID())
		}
		g.Nodes[id] = n
	}
	g.Edges = in.Edges
	return nil
}
