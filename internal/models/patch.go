package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind discriminates patch operations on the wire ("op" field).
type OpKind string

// Patch operation kinds.
const (
	OpAddNode    OpKind = "ADD_NODE"
	OpUpdateNode OpKind = "UPDATE_NODE"
	OpDeleteNode OpKind = "DELETE_NODE"
	OpAddEdge    OpKind = "ADD_EDGE"
	OpDeleteEdge OpKind = "DELETE_EDGE"
)

// Op is one patch operation. The set of implementations is closed.
type Op interface {
	Kind() OpKind
	isOp()
}

// AddNodeOp inserts a node.
type AddNodeOp struct {
	Node Node
}

// UpdateNodeOp shallow-merges Set into an existing node.
type UpdateNodeOp struct {
	ID  string
	Set map[string]any
}

// DeleteNodeOp removes a node and every edge touching it.
type DeleteNodeOp struct {
	ID string
}

// AddEdgeOp appends an edge. An empty Edge.ID is filled in on apply.
type AddEdgeOp struct {
	Edge Edge
}

// DeleteEdgeOp removes one edge. When ID is set the edge is addressed by id,
// otherwise the first edge matching Edge in creation order is removed.
type DeleteEdgeOp struct {
	ID   string
	Edge EdgeKey
}

func (AddNodeOp) Kind() OpKind    { return OpAddNode }
func (UpdateNodeOp) Kind() OpKind { return OpUpdateNode }
func (DeleteNodeOp) Kind() OpKind { return OpDeleteNode }
func (AddEdgeOp) Kind() OpKind    { return OpAddEdge }
func (DeleteEdgeOp) Kind() OpKind { return OpDeleteEdge }

func (AddNodeOp) isOp()    {}
func (UpdateNodeOp) isOp() {}
func (DeleteNodeOp) isOp() {}
func (AddEdgeOp) isOp()    {}
func (DeleteEdgeOp) isOp() {}

// Patch is an ordered change-set applied atomically to one graph version.
type Patch struct {
	ID            string
	BaseVersionID string
	CreatedAt     time.Time
	Ops           []Op
	Metadata      map[string]any
}

type patchJSON struct {
	ID            string            `json:"id"`
	BaseVersionID string            `json:"base_story_version_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Ops           []json.RawMessage `json:"ops"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

type opJSON struct {
	Op   OpKind          `json:"op"`
	ID   string          `json:"id,omitempty"`
	Node json.RawMessage `json:"node,omitempty"`
	Set  map[string]any  `json:"set,omitempty"`
	Edge json.RawMessage `json:"edge,omitempty"`
}

// MarshalJSON encodes the patch with "op"-tagged operations.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := patchJSON{
		ID:            p.ID,
		BaseVersionID: p.BaseVersionID,
		CreatedAt:     p.CreatedAt,
		Ops:           make([]json.RawMessage, 0, len(p.Ops)),
		Metadata:      p.Metadata,
	}
	for i, op := range p.Ops {
		raw, err := MarshalOp(op)
		if err != nil {
			return nil, fmt.Errorf("models: encode op %d: %w", i, err)
		}
		out.Ops = append(out.Ops, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a patch. Unknown op kinds are an error.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var in patchJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("models: decode patch: %w", err)
	}
	ops := make([]Op, 0, len(in.Ops))
	for i, raw := range in.Ops {
		op, err := UnmarshalOp(raw)
		if err != nil {
			return fmt.Errorf("models: op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	*p = Patch{
		ID:            in.ID,
		BaseVersionID: in.BaseVersionID,
		CreatedAt:     in.CreatedAt,
		Ops:           ops,
		Metadata:      in.Metadata,
	}
	return nil
}

// MarshalOp encodes a single operation.
func MarshalOp(op Op) ([]byte, error) {
	out := opJSON{Op: op.Kind()}
	switch v := op.(type) {
	case AddNodeOp:
		raw, err := MarshalNode(v.Node)
		if err != nil {
			return nil, err
		}
		out.Node = raw
	case UpdateNodeOp:
		out.ID = v.ID
		out.Set = v.Set
	case DeleteNodeOp:
		out.ID = v.ID
	case AddEdgeOp:
		raw, err := json.Marshal(v.Edge)
		if err != nil {
			return nil, err
		}
		out.Edge = raw
	case DeleteEdgeOp:
		out.ID = v.ID
		raw, err := json.Marshal(v.Edge)
		if err != nil {
			return nil, err
		}
		out.Edge = raw
	default:
		return nil, fmt.Errorf("unknown op %T", op)
	}
	return json.Marshal(out)
}

// UnmarshalOp decodes a single "op"-tagged operation.
func UnmarshalOp(data []byte) (Op, error) {
	var in opJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode op: %w", err)
	}
	switch in.Op {
	case OpAddNode:
		if len(in.Node) == 0 {
			return nil, fmt.Errorf("%s: node is required", in.Op)
		}
		n, err := UnmarshalNodeStrict(in.Node)
		if err != nil {
			return nil, err
		}
		return AddNodeOp{Node: n}, nil
	case OpUpdateNode:
		return UpdateNodeOp{ID: in.ID, Set: in.Set}, nil
	case OpDeleteNode:
		return DeleteNodeOp{ID: in.ID}, nil
	case OpAddEdge:
		var e Edge
		if len(in.Edge) > 0 {
			if err := json.Unmarshal(in.Edge, &e); err != nil {
				return nil, fmt.Errorf("%s: %w", in.Op, err)
			}
		}
		return AddEdgeOp{Edge: e}, nil
	case OpDeleteEdge:
		var k EdgeKey
		if len(in.Edge) > 0 {
			if err := json.Unmarshal(in.Edge, &k); err != nil {
				return nil, fmt.Errorf("%s: %w", in.Op, err)
			}
		}
		return DeleteEdgeOp{ID: in.ID, Edge: k}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", in.Op)
	}
}
