package mention

import (
	"fmt"

	"github.com/starford/storyloom/internal/models"
)

// Result summarizes a reconciliation call.
type Result struct {
	EdgesCreated   int      `json:"edgesCreated"`
	EdgesRemoved   int      `json:"edgesRemoved"`
	NodesProcessed []string `json:"nodesProcessed"`
}

// TextField is one free-text field of a mention source node.
type TextField struct {
	Name string
	Text string
}

// Edge property keys on MENTIONS edges.
const (
	PropField       = "field"
	PropMatchedText = "matched_text"
	PropConfidence  = "confidence"
)

// IsEntity reports whether nodes of kind t appear in the entity catalog.
func IsEntity(t models.NodeType) bool {
	switch t {
	case models.TypeCharacter, models.TypeLocation, models.TypeObject:
		return true
	}
	return false
}

// SourceFields returns the text fields scanned for mentions on n, and false
// when n's kind is not a mention source.
func SourceFields(n models.Node) ([]TextField, bool) {
	switch v := n.(type) {
	case models.StoryBeat:
		return []TextField{{"title", v.Title}, {"summary", v.Summary}}, true
	case models.PlotPoint:
		return []TextField{{"title", v.Title}, {"summary", v.Summary}}, true
	case models.Scene:
		return []TextField{{"heading", v.Heading}, {"scene_overview", v.SceneOverview}}, true
	case models.Idea:
		return []TextField{{"title", v.Title}, {"description", v.Description}}, true
	}
	return nil, false
}

// Catalog derives the entity catalog from the nodes of g, ordered by id.
func Catalog(g *models.GraphState) []models.EntityInfo {
	var out []models.EntityInfo
	for _, id := range g.NodeIDs() {
		switch v := g.Nodes[id].(type) {
		case models.Character:
			out = append(out, models.EntityInfo{ID: v.ID, Type: v.NodeType(), Name: v.Name, Aliases: v.Aliases})
		case models.Location:
			out = append(out, models.EntityInfo{ID: v.ID, Type: v.NodeType(), Name: v.Name, Aliases: v.Aliases})
		case models.Object:
			out = append(out, models.EntityInfo{ID: v.ID, Type: v.NodeType(), Name: v.Name, Aliases: v.Aliases})
		}
	}
	return out
}

// RebuildForNode replaces the outgoing MENTIONS edges of one node with those
// extracted from its current text. Missing nodes and kinds that are not
// mention sources produce a zero result and g is returned unchanged.
// Rebuilding twice in a row yields the same edges.
func RebuildForNode(g *models.GraphState, nodeID string) (*models.GraphState, Result) {
	return Rebuild(g, []string{nodeID})
}

// Rebuild is RebuildForNode for several nodes, sharing one compiled catalog.
func Rebuild(g *models.GraphState, nodeIDs []string) (*models.GraphState, Result) {
	res := Result{NodesProcessed: []string{}}

	targets := make(map[string]struct{}, len(nodeIDs))
	var sources []string
	for _, id := range nodeIDs {
		n, ok := g.Nodes[id]
		if !ok {
			continue
		}
		if _, ok := SourceFields(n); !ok {
			continue
		}
		if _, dup := targets[id]; dup {
			continue
		}
		targets[id] = struct{}{}
		sources = append(sources, id)
	}
	if len(sources) == 0 {
		return g, res
	}

	out := g.Clone()
	kept := out.Edges[:0]
	for _, e := range out.Edges {
		if _, owned := targets[e.From]; owned && e.Type == models.EdgeMentions {
			res.EdgesRemoved++
			continue
		}
		kept = append(kept, e)
	}
	out.Edges = kept

	m := NewMatcher(Catalog(g))
	for _, id := range sources {
		edges := mentionEdges(m, g.Nodes[id])
		out.Edges = append(out.Edges, edges...)
		res.EdgesCreated += len(edges)
		res.NodesProcessed = append(res.NodesProcessed, id)
	}
	return out, res
}

// RebuildAll drops every MENTIONS edge in the graph and regenerates them for
// all mention source nodes. This scans every node against the full catalog.
func RebuildAll(g *models.GraphState) (*models.GraphState, Result) {
	res := Result{NodesProcessed: []string{}}
	out := g.Clone()

	kept := out.Edges[:0]
	for _, e := range out.Edges {
		if e.Type == models.EdgeMentions {
			res.EdgesRemoved++
			continue
		}
		kept = append(kept, e)
	}
	out.Edges = kept

	m := NewMatcher(Catalog(g))
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if _, ok := SourceFields(n); !ok {
			continue
		}
		edges := mentionEdges(m, n)
		out.Edges = append(out.Edges, edges...)
		res.EdgesCreated += len(edges)
		res.NodesProcessed = append(res.NodesProcessed, id)
	}
	return out, res
}

// RemoveFromNode deletes the MENTIONS edges whose source is nodeID and
// returns the new graph with the number removed. Other nodes' mentions stay.
func RemoveFromNode(g *models.GraphState, nodeID string) (*models.GraphState, int) {
	removed := 0
	for _, e := range g.Edges {
		if e.From == nodeID && e.Type == models.EdgeMentions {
			removed++
		}
	}
	if removed == 0 {
		return g, 0
	}
	out := g.Clone()
	kept := out.Edges[:0]
	for _, e := range out.Edges {
		if e.From == nodeID && e.Type == models.EdgeMentions {
			continue
		}
		kept = append(kept, e)
	}
	out.Edges = kept
	return out, removed
}

// mentionEdges builds one MENTIONS edge per (field, entity) found on n.
func mentionEdges(m *Matcher, n models.Node) []models.Edge {
	fields, _ := SourceFields(n)
	var out []models.Edge
	for _, f := range fields {
		for _, mt := range m.Extract(f.Text) {
			if mt.EntityID == n.NodeID() {
				continue
			}
			out = append(out, models.Edge{
				ID:   fmt.Sprintf("%s%s:%s:%s", models.DerivedEdgeIDPrefix, n.NodeID(), f.Name, mt.EntityID),
				Type: models.EdgeMentions,
				From: n.NodeID(),
				To:   mt.EntityID,
				Properties: map[string]any{
					PropField:       f.Name,
					PropMatchedText: mt.MatchedText,
					PropConfidence:  mt.Confidence,
				},
			})
		}
	}
	return out
}
