package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPatchUnmarshal_AllOps(t *testing.T) {
	input := `{
		"id": "p1",
		"base_story_version_id": "v1",
		"created_at": "2025-01-15T10:00:00Z",
		"ops": [
			{"op": "ADD_NODE", "node": {"id": "c1", "type": "Character", "name": "John", "aliases": ["Johnny"]}},
			{"op": "UPDATE_NODE", "id": "c1", "set": {"description": "cook"}},
			{"op": "ADD_EDGE", "edge": {"type": "ADVANCES", "from": "sb1", "to": "c1"}},
			{"op": "DELETE_EDGE", "edge": {"type": "ADVANCES", "from": "sb1", "to": "c1"}},
			{"op": "DELETE_NODE", "id": "c1"}
		],
		"metadata": {"source": "human"}
	}`
	var p Patch
	if err := json.Unmarshal([]byte(input), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.BaseVersionID != "v1" || len(p.Ops) != 5 {
		t.Fatalf("patch = %+v", p)
	}
	add, ok := p.Ops[0].(AddNodeOp)
	if !ok {
		t.Fatalf("op 0 = %T", p.Ops[0])
	}
	c, ok := add.Node.(Character)
	if !ok || c.Name != "John" || len(c.Aliases) != 1 {
		t.Errorf("node = %#v", add.Node)
	}
	if del := p.Ops[3].(DeleteEdgeOp); del.Edge.From != "sb1" || del.Edge.Type != EdgeAdvances {
		t.Errorf("delete edge = %+v", del)
	}
}

func TestPatchUnmarshal_UnknownOp(t *testing.T) {
	var p Patch
	err := json.Unmarshal([]byte(`{"id":"p","ops":[{"op":"RENAME_NODE","id":"x"}]}`), &p)
	if err == nil || !strings.Contains(err.Error(), "RENAME_NODE") {
		t.Errorf("err = %v", err)
	}
}

func TestPatchMarshal_RoundTripsOpTags(t *testing.T) {
	p := Patch{ID: "p1", Ops: []Op{
		AddNodeOp{Node: Scene{ID: "s1", Heading: "INT. HOUSE"}},
		DeleteEdgeOp{ID: "e9"},
	}}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"op":"ADD_NODE"`) || !strings.Contains(s, `"type":"Scene"`) {
		t.Errorf("encoded = %s", s)
	}
	var back Patch
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Ops[1].(DeleteEdgeOp).ID != "e9" {
		t.Errorf("ops = %+v", back.Ops)
	}
}

func TestGraphJSON(t *testing.T) {
	g := NewGraph()
	g.Nodes["b1"] = Beat{ID: "b1", BeatType: "Midpoint", Act: 2}
	g.Nodes["i1"] = Idea{ID: "i1", Title: "Storm"}
	g.Edges = []Edge{{ID: "e1", Type: EdgeInspiredBy, From: "b1", To: "i1"}}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back GraphState
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b, ok := back.Nodes["b1"].(Beat); !ok || b.Act != 2 {
		t.Errorf("b1 = %#v", back.Nodes["b1"])
	}
	if len(back.Edges) != 1 || back.Edges[0].To != "i1" {
		t.Errorf("edges = %+v", back.Edges)
	}
}

func TestGraphJSON_RejectsMismatchedKey(t *testing.T) {
	var g GraphState
	err := json.Unmarshal([]byte(`{"nodes":{"a":{"id":"b","type":"Idea","title":"x"}},"edges":[]}`), &g)
	if err == nil {
		t.Fatal("expected error for mismatched node key")
	}
}

func TestMergeFields(t *testing.T) {
	n := StoryBeat{ID: "sb1", Title: "Old", Summary: "keep", Act: 1}
	merged, err := MergeFields(n, map[string]any{"title": "New", "act": float64(2)})
	if err != nil {
		t.Fatalf("MergeFields: %v", err)
	}
	sb := merged.(StoryBeat)
	if sb.Title != "New" || sb.Act != 2 || sb.Summary != "keep" {
		t.Errorf("merged = %+v", sb)
	}
	if n.Title != "Old" {
		t.Error("original node mutated")
	}

	if _, err := MergeFields(n, map[string]any{"id": "other"}); err == nil {
		t.Error("expected id change to fail")
	}
	if _, err := MergeFields(n, map[string]any{"colour": "red"}); err == nil {
		t.Error("expected unknown field to fail")
	}
}

func TestEdgeAllowedBetween(t *testing.T) {
	if !EdgeAllowedBetween(EdgePrecedes, TypeScene, TypeScene) {
		t.Error("Scene PRECEDES Scene should be allowed")
	}
	if EdgeAllowedBetween(EdgePrecedes, TypeScene, TypeStoryBeat) {
		t.Error("Scene PRECEDES StoryBeat should be rejected")
	}
	if !EdgeAllowedBetween(EdgeInspiredBy, TypeCharacter, TypeIdea) {
		t.Error("INSPIRED_BY should accept any source")
	}
	if PatchableEdgeType(EdgeMentions) {
		t.Error("MENTIONS must not be patchable")
	}
}

func TestPatchUnmarshal_AddNodeRejectsUnknownField(t *testing.T) {
	var p Patch
	err := json.Unmarshal([]byte(`{"id":"p","ops":[
		{"op":"ADD_NODE","node":{"id":"sb_9","type":"StoryBeat","title":"Chase","sumary":"typo"}}
	]}`), &p)
	if err == nil || !strings.Contains(err.Error(), "sumary") {
		t.Errorf("err = %v, want unknown field sumary", err)
	}
}

func TestGraphJSON_StoredNodesTolerateExtraFields(t *testing.T) {
	var g GraphState
	err := json.Unmarshal([]byte(`{"nodes":{"i1":{"id":"i1","type":"Idea","title":"Storm","legacy":true}},"edges":[]}`), &g)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if i, ok := g.Nodes["i1"].(Idea); !ok || i.Title != "Storm" {
		t.Errorf("i1 = %#v", g.Nodes["i1"])
	}
}
