// Package proposal turns AI-generated narrative packages into patches and
// story-context change lists.
package proposal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/storyloom/internal/models"
)

// NarrativePackage is a bundle of node, edge and story-context changes
// proposed by a generative model.
type NarrativePackage struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Changes    Changes `json:"changes"`
}

// Changes groups the proposed edits.
type Changes struct {
	Nodes        NodeChanges                 `json:"nodes"`
	Edges        EdgeChanges                 `json:"edges"`
	StoryContext []models.StoryContextChange `json:"story_context,omitempty"`
}

// NodeChanges lists node additions, field updates and deletions.
type NodeChanges struct {
	Add    []json.RawMessage  `json:"add,omitempty"`
	Modify []NodeModification `json:"modify,omitempty"`
	Delete []string           `json:"delete,omitempty"`
}

// NodeModification updates fields of one node.
type NodeModification struct {
	NodeID  string         `json:"node_id"`
	Updates map[string]any `json:"updates"`
}

// EdgeChanges lists edge additions and deletions.
type EdgeChanges struct {
	Add    []models.Edge    `json:"add,omitempty"`
	Delete []models.EdgeKey `json:"delete,omitempty"`
}

// Dropped records a proposed change that was filtered out.
type Dropped struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Reason string `json:"reason"`
}

// Translation is the result of Translate.
type Translation struct {
	Patch          models.Patch
	ContextChanges []models.StoryContextChange
	Dropped        []Dropped
}

// Translate builds a patch against baseVersionID from pkg. Ops are ordered
// node additions, node updates, edge deletions, edge additions, then node
// deletions, so edges may reference new nodes and deletions cascade last.
//
// Edges with unknown or derived types are dropped rather than reported as
// errors, as are story-context changes with an unknown operation. Everything
// else is passed through for the patch validator to judge.
func Translate(pkg NarrativePackage, baseVersionID string, now time.Time) (Translation, error) {
	var tr Translation
	var ops []models.Op

	for i, raw := range pkg.Changes.Nodes.Add {
		n, err := models.UnmarshalNodeStrict(raw)
		if err != nil {
			return Translation{}, fmt.Errorf("proposal: node %d: %w", i, err)
		}
		ops = append(ops, models.AddNodeOp{Node: n})
	}
	for _, m := range pkg.Changes.Nodes.Modify {
		ops = append(ops, models.UpdateNodeOp{ID: m.NodeID, Set: m.Updates})
	}
	for _, k := range pkg.Changes.Edges.Delete {
		if reason, ok := rejectEdgeType(k.Type); !ok {
			tr.Dropped = append(tr.Dropped, Dropped{Kind: "edge_delete", Detail: describe(k), Reason: reason})
			continue
		}
		ops = append(ops, models.DeleteEdgeOp{Edge: k})
	}
	for _, e := range pkg.Changes.Edges.Add {
		if reason, ok := rejectEdgeType(e.Type); !ok {
			tr.Dropped = append(tr.Dropped, Dropped{Kind: "edge_add", Detail: describe(e.Key()), Reason: reason})
			continue
		}
		ops = append(ops, models.AddEdgeOp{Edge: e})
	}
	for _, id := range pkg.Changes.Nodes.Delete {
		ops = append(ops, models.DeleteNodeOp{ID: id})
	}

	for _, c := range pkg.Changes.StoryContext {
		switch c.Operation {
		case models.ContextAdd, models.ContextModify, models.ContextDelete:
			tr.ContextChanges = append(tr.ContextChanges, c)
		default:
			tr.Dropped = append(tr.Dropped, Dropped{
				Kind:   "story_context",
				Detail: c.Section,
				Reason: fmt.Sprintf("unknown operation %q", c.Operation),
			})
		}
	}

	tr.Patch = models.Patch{
		ID:            "patch_" + uuid.NewString(),
		BaseVersionID: baseVersionID,
		CreatedAt:     now.UTC(),
		Ops:           ops,
		Metadata: map[string]any{
			"source":     "narrative_package",
			"package_id": pkg.ID,
			"title":      pkg.Title,
			"rationale":  pkg.Rationale,
			"confidence": pkg.Confidence,
		},
	}
	return tr, nil
}

func rejectEdgeType(t models.EdgeType) (string, bool) {
	switch {
	case models.DerivedEdgeType(t):
		return fmt.Sprintf("edge type %s is derived", t), false
	case !models.PatchableEdgeType(t):
		return fmt.Sprintf("unknown edge type %q", t), false
	}
	return "", true
}

func describe(k models.EdgeKey) string {
	return fmt.Sprintf("%s %s -> %s", k.Type, k.From, k.To)
}
