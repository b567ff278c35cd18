package patch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/storyloom/internal/models"
)

// NewEdgeID returns a fresh edge identifier.
func NewEdgeID() string {
	return "edge_" + uuid.NewString()
}

// Apply folds the ops of p over a copy of g and returns the new graph. g is
// left untouched.
//
// p must already have passed Validate; Apply does not re-validate, and the
// result of applying an invalid patch is unspecified. An error is returned
// only when an op cannot be carried out at all.
func Apply(g *models.GraphState, p models.Patch) (*models.GraphState, error) {
	out := g.Clone()

	for i, op := range p.Ops {
		switch v := op.(type) {
		case models.AddNodeOp:
			out.Nodes[v.Node.NodeID()] = v.Node

		case models.UpdateNodeOp:
			n, ok := out.Nodes[v.ID]
			if !ok {
				return nil, fmt.Errorf("patch: op %d: node %q not found", i, v.ID)
			}
			merged, err := models.MergeFields(n, v.Set)
			if err != nil {
				return nil, fmt.Errorf("patch: op %d: %w", i, err)
			}
			out.Nodes[v.ID] = merged

		case models.DeleteNodeOp:
			delete(out.Nodes, v.ID)
			out.Edges = withoutEdgesTouching(out.Edges, v.ID)

		case models.AddEdgeOp:
			e := v.Edge
			if e.ID == "" {
				e.ID = NewEdgeID()
			}
			out.Edges = append(out.Edges, e)

		case models.DeleteEdgeOp:
			out.Edges = withoutFirstEdge(out.Edges, v.ID, v.Edge)

		default:
			return nil, fmt.Errorf("patch: op %d: unsupported operation %T", i, op)
		}
	}

	return out, nil
}

// withoutEdgesTouching drops every edge whose source or target is id.
func withoutEdgesTouching(edges []models.Edge, id string) []models.Edge {
	kept := edges[:0]
	for _, e := range edges {
		if e.From != id && e.To != id {
			kept = append(kept, e)
		}
	}
	return kept
}

// withoutFirstEdge drops the edge with the given id or, when id is empty, the
// first edge matching key in creation order.
func withoutFirstEdge(edges []models.Edge, id string, key models.EdgeKey) []models.Edge {
	for i, e := range edges {
		if (id != "" && e.ID == id) || (id == "" && e.Key() == key) {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}
