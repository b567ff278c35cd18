// Package patch validates and applies change-sets to story graphs.
package patch

import (
	"fmt"
	"strings"

	"github.com/starford/storyloom/internal/models"
)

// Issue describes one reason a patch was rejected.
type Issue struct {
	OpIndex int           `json:"op_index"`
	Op      models.OpKind `json:"op"`
	Message string        `json:"message"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("op %d (%s): %s", i.OpIndex, i.Op, i.Message)
}

// Result is the outcome of Validate.
type Result struct {
	Success bool    `json:"success"`
	Errors  []Issue `json:"errors"`
}

// Messages returns the human-readable form of every issue.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

// workingGraph tracks the effect of the ops seen so far, so later ops can
// reference nodes added earlier in the same patch.
type workingGraph struct {
	nodes map[string]models.Node
	edges []models.Edge
}

func newWorkingGraph(g *models.GraphState) *workingGraph {
	c := g.Clone()
	return &workingGraph{nodes: c.Nodes, edges: c.Edges}
}

func (w *workingGraph) removeNode(id string) {
	delete(w.nodes, id)
	kept := w.edges[:0]
	for _, e := range w.edges {
		if e.From != id && e.To != id {
			kept = append(kept, e)
		}
	}
	w.edges = kept
}

// findEdge returns the index of the edge addressed by id or, when id is
// empty, the first edge matching key.
func (w *workingGraph) findEdge(id string, key models.EdgeKey) int {
	for i, e := range w.edges {
		if id != "" {
			if e.ID == id {
				return i
			}
			continue
		}
		if e.Key() == key {
			return i
		}
	}
	return -1
}

// Validate checks p against g without modifying either. It never fails fast:
// every problem found is reported so callers can surface a complete list.
func Validate(g *models.GraphState, p models.Patch) Result {
	w := newWorkingGraph(g)
	var issues []Issue

	for i, op := range p.Ops {
		report := func(format string, args ...any) {
			issues = append(issues, Issue{OpIndex: i, Op: op.Kind(), Message: fmt.Sprintf(format, args...)})
		}

		switch v := op.(type) {
		case models.AddNodeOp:
			validateAddNode(w, v, report)
		case models.UpdateNodeOp:
			validateUpdateNode(w, v, report)
		case models.DeleteNodeOp:
			if _, ok := w.nodes[v.ID]; !ok {
				report("node %q does not exist", v.ID)
				continue
			}
			w.removeNode(v.ID)
		case models.AddEdgeOp:
			validateAddEdge(w, v, report)
		case models.DeleteEdgeOp:
			validateDeleteEdge(w, v, report)
		default:
			issues = append(issues, Issue{OpIndex: i, Message: fmt.Sprintf("unsupported operation %T", op)})
		}
	}

	return Result{Success: len(issues) == 0, Errors: nonNil(issues)}
}

type reporter func(format string, args ...any)

func validateAddNode(w *workingGraph, op models.AddNodeOp, report reporter) {
	if op.Node == nil {
		report("node is required")
		return
	}
	id := op.Node.NodeID()
	if id == "" {
		report("node id is required")
		return
	}
	if !models.KnownNodeType(op.Node.NodeType()) {
		report("node %q has unrecognized type %q", id, op.Node.NodeType())
		return
	}
	if _, exists := w.nodes[id]; exists {
		report("node %q already exists", id)
		return
	}
	if err := op.Node.Validate(); err != nil {
		report("invalid %s node %q: %v", op.Node.NodeType(), id, err)
	}
	// Track the node even when its fields are invalid, so that later ops
	// referencing it do not produce follow-on errors.
	w.nodes[id] = op.Node
}

func validateUpdateNode(w *workingGraph, op models.UpdateNodeOp, report reporter) {
	n, ok := w.nodes[op.ID]
	if !ok {
		report("node %q does not exist", op.ID)
		return
	}
	if len(op.Set) == 0 {
		report("update for node %q sets no fields", op.ID)
		return
	}
	merged, err := models.MergeFields(n, op.Set)
	if err != nil {
		report("cannot update node %q: %v", op.ID, err)
		return
	}
	if err := merged.Validate(); err != nil {
		report("update leaves %s node %q invalid: %v", merged.NodeType(), op.ID, err)
	}
	w.nodes[op.ID] = merged
}

func validateAddEdge(w *workingGraph, op models.AddEdgeOp, report reporter) {
	e := op.Edge
	valid := true
	switch {
	case e.Type == "":
		report("edge type is required")
		valid = false
	case models.DerivedEdgeType(e.Type):
		report("edge type %s is derived and cannot be added by a patch", e.Type)
		valid = false
	case !models.PatchableEdgeType(e.Type):
		report("unknown edge type %q", e.Type)
		valid = false
	}

	from, fromOK := w.nodes[e.From]
	if !fromOK {
		report("edge source %q does not exist", e.From)
		valid = false
	}
	to, toOK := w.nodes[e.To]
	if !toOK {
		report("edge target %q does not exist", e.To)
		valid = false
	}
	if fromOK && toOK && e.From == e.To {
		report("edge cannot connect node %q to itself", e.From)
		valid = false
	}
	if valid && !models.EdgeAllowedBetween(e.Type, from.NodeType(), to.NodeType()) {
		report("%s edge cannot connect %s %q to %s %q", e.Type, from.NodeType(), e.From, to.NodeType(), e.To)
		valid = false
	}
	if strings.HasPrefix(e.ID, models.DerivedEdgeIDPrefix) {
		report("edge id %q is reserved for derived edges", e.ID)
		valid = false
	} else if e.ID != "" && w.findEdge(e.ID, models.EdgeKey{}) >= 0 {
		report("edge %q already exists", e.ID)
		valid = false
	}
	if valid {
		w.edges = append(w.edges, e)
	}
}

func validateDeleteEdge(w *workingGraph, op models.DeleteEdgeOp, report reporter) {
	key := op.Edge
	if models.DerivedEdgeType(key.Type) {
		report("edge type %s is derived and cannot be deleted by a patch", key.Type)
		return
	}

	if op.ID != "" {
		idx := w.findEdge(op.ID, models.EdgeKey{})
		if idx < 0 {
			report("edge %q does not exist", op.ID)
			return
		}
		if t := w.edges[idx].Type; models.DerivedEdgeType(t) {
			report("edge %q is a derived %s edge and cannot be deleted by a patch", op.ID, t)
			return
		}
		if key != (models.EdgeKey{}) && w.edges[idx].Key() != key {
			report("edge %q does not match %s %q -> %q", op.ID, key.Type, key.From, key.To)
			return
		}
		w.edges = append(w.edges[:idx], w.edges[idx+1:]...)
		return
	}

	if key.Type == "" || key.From == "" || key.To == "" {
		report("edge deletion requires an id or a type, from and to")
		return
	}
	if !models.PatchableEdgeType(key.Type) {
		report("unknown edge type %q", key.Type)
		return
	}
	idx := w.findEdge("", key)
	if idx < 0 {
		report("no %s edge from %q to %q", key.Type, key.From, key.To)
		return
	}
	w.edges = append(w.edges[:idx], w.edges[idx+1:]...)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
