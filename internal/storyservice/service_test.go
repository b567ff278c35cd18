package storyservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/starford/storyloom/internal/apperr"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/proposal"
	"github.com/starford/storyloom/internal/sse"
	"github.com/starford/storyloom/internal/testutil"
)

type recordedEvent struct {
	kind, storyID, versionID string
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishStoryEvent(kind, storyID, versionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, storyID, versionID})
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	rec := &recorder{}
	return NewService(store, db, WithPublisher(rec)), rec
}

// seeded returns a service holding story "s1" built from testutil.SampleGraph.
func seeded(t *testing.T) (*Service, *recorder, *Snapshot) {
	t.Helper()
	svc, rec := newTestService(t)
	snap, err := svc.CreateStory(context.Background(), "s1", "Night Shift", testutil.SampleGraph())
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	return svc, rec, snap
}

func updateSummary(base, summary string) models.Patch {
	return models.Patch{
		BaseVersionID: base,
		Ops:           []models.Op{models.UpdateNodeOp{ID: "sb_1", Set: map[string]any{"summary": summary}}},
	}
}

func TestCreateStory(t *testing.T) {
	svc, rec, snap := seeded(t)
	ctx := context.Background()

	if snap.VersionID == "" || snap.Checksum == "" {
		t.Fatalf("snapshot = %+v", snap)
	}
	mentions := snap.Graph.EdgesOfType(models.EdgeMentions)
	if len(mentions) != 1 || mentions[0].From != "scene_1" || mentions[0].To != "loc_docks" {
		t.Errorf("initial mentions = %+v", mentions)
	}

	head, err := svc.GetGraph(ctx, "s1")
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}
	if head.VersionID != snap.VersionID || len(head.Graph.Nodes) != 5 {
		t.Errorf("head = %s with %d nodes", head.VersionID, len(head.Graph.Nodes))
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != sse.KindCreated {
		t.Errorf("events = %v", got)
	}

	if _, err := svc.CreateStory(ctx, "s1", "again", nil); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate err = %v", err)
	}
	if _, err := svc.CreateStory(ctx, "../evil", "", nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad id err = %v", err)
	}
}

func TestCreateStory_RejectsInvalidGraph(t *testing.T) {
	svc, _ := newTestService(t)
	g := models.NewGraph()
	g.Nodes["sb"] = models.StoryBeat{ID: "sb", Title: "Lonely"}
	g.Edges = []models.Edge{{Type: models.EdgeAdvances, From: "sb", To: "ghost"}}

	_, err := svc.CreateStory(context.Background(), "s2", "", g)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, apperr.ErrInvalidPatch) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Issues) == 0 {
		t.Error("expected issues")
	}
}

func TestCommit_ReconcilesTouchedNode(t *testing.T) {
	svc, rec, snap := seeded(t)
	ctx := context.Background()

	res, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "John Smith meets Mary at the docks."), nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.ParentVersionID != snap.VersionID || res.VersionID == snap.VersionID {
		t.Errorf("versions = %s <- %s", res.VersionID, res.ParentVersionID)
	}
	if res.Mentions.EdgesCreated != 3 || len(res.Mentions.NodesProcessed) != 1 {
		t.Errorf("mentions = %+v", res.Mentions)
	}

	rows, err := svc.MentionedBy(ctx, "s1", "char_john")
	if err != nil {
		t.Fatalf("MentionedBy: %v", err)
	}
	if len(rows) != 1 || rows[0].Source != "sb_1" || rows[0].Field != "summary" || rows[0].Confidence != 1.0 {
		t.Errorf("mentioned by = %+v", rows)
	}

	got := rec.kinds()
	if got[len(got)-1] != sse.KindCommitted {
		t.Errorf("events = %v", got)
	}
}

func TestCommit_StaleBase(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	if _, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "first"), nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	_, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "second"), nil)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	// An empty base commits against whatever the head is.
	if _, err := svc.Commit(ctx, "s1", updateSummary("", "third"), nil); err != nil {
		t.Errorf("Commit without base: %v", err)
	}
}

func TestCommit_InvalidPatchStoresNothing(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	p := models.Patch{Ops: []models.Op{
		models.AddEdgeOp{Edge: models.Edge{Type: models.EdgeMentions, From: "sb_1", To: "char_john"}},
		models.DeleteNodeOp{ID: "nobody"},
	}}
	_, err := svc.Commit(ctx, "s1", p, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Issues) != 2 {
		t.Errorf("issues = %v", verr.Messages())
	}

	history, _ := svc.History(ctx, "s1")
	if len(history) != 1 || history[0].ID != snap.VersionID {
		t.Errorf("history = %+v", history)
	}
}

func TestCommit_EntityChangeRebuildsGraphWide(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	res, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "Johnny waits by the water."), nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rows, _ := svc.MentionedBy(ctx, "s1", "char_john"); len(rows) != 1 || rows[0].Confidence != 0.95 {
		t.Fatalf("alias mention = %+v", rows)
	}

	drop := models.Patch{
		BaseVersionID: res.VersionID,
		Ops:           []models.Op{models.UpdateNodeOp{ID: "char_john", Set: map[string]any{"aliases": []any{}}}},
	}
	res, err = svc.Commit(ctx, "s1", drop, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rows, _ := svc.MentionedBy(ctx, "s1", "char_john"); len(rows) != 0 {
		t.Errorf("stale alias mention kept: %+v", rows)
	}
	// The untouched scene keeps its mention of the docks.
	if n := len(res.Graph.OutgoingEdges("scene_1", models.EdgeMentions)); n != 1 {
		t.Errorf("scene mentions = %d, want 1", n)
	}
}

func TestCommit_DeletingEntityDropsInboundMentions(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	p := models.Patch{BaseVersionID: snap.VersionID, Ops: []models.Op{models.DeleteNodeOp{ID: "loc_docks"}}}
	res, err := svc.Commit(ctx, "s1", p, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := len(res.Graph.EdgesOfType(models.EdgeMentions)); n != 0 {
		t.Errorf("mentions left = %d", n)
	}
	for _, e := range res.Graph.Edges {
		if e.From == "loc_docks" || e.To == "loc_docks" {
			t.Errorf("dangling edge %+v", e)
		}
	}
}

func TestCommit_WithContextChanges(t *testing.T) {
	svc, rec, snap := seeded(t)
	ctx := context.Background()

	changes := []models.StoryContextChange{{Operation: models.ContextAdd, Section: "Themes", Content: "Loyalty under pressure."}}
	res, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "Mary lies."), changes)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Context == nil || !strings.Contains(res.Context.Content, "## Themes") {
		t.Fatalf("context = %+v", res.Context)
	}

	doc, err := svc.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if doc.Checksum != res.Context.Checksum || len(doc.Sections) != 1 || doc.Sections[0].Name != "Themes" {
		t.Errorf("doc = %+v", doc)
	}

	hits, err := svc.Search(ctx, "Loyalty", "s1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Ref != "context" {
		t.Errorf("hits = %+v", hits)
	}

	got := rec.kinds()
	if got[len(got)-1] != sse.KindContext {
		t.Errorf("events = %v", got)
	}
}

func TestConcurrentCommitsSameBase(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "race"), nil)
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected err: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("ok = %d, conflicts = %d", ok, conflicts)
	}
}

func TestRevert(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	if _, err := svc.Commit(ctx, "s1", updateSummary(snap.VersionID, "John Smith returns."), nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	res, err := svc.Revert(ctx, "s1", snap.VersionID)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}

	head, _ := svc.GetGraph(ctx, "s1")
	if head.VersionID != res.VersionID || head.Checksum != snap.Checksum {
		t.Errorf("head = %s (%s), want graph of %s", head.VersionID, head.Checksum, snap.VersionID)
	}
	if sb := head.Graph.Nodes["sb_1"].(models.StoryBeat); sb.Summary != "A stranger comes to town." {
		t.Errorf("summary = %q", sb.Summary)
	}
	history, _ := svc.History(ctx, "s1")
	if len(history) != 3 {
		t.Errorf("history = %d versions, want 3", len(history))
	}

	if _, err := svc.Revert(ctx, "s1", "ver_missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing version err = %v", err)
	}
}

func TestRebuildMentions_NoChangeKeepsHead(t *testing.T) {
	svc, _, snap := seeded(t)
	res, err := svc.RebuildMentions(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("RebuildMentions: %v", err)
	}
	if res.VersionID != snap.VersionID {
		t.Errorf("version moved to %s without mention changes", res.VersionID)
	}
	if res.Mentions.EdgesCreated != 1 || res.Mentions.EdgesRemoved != 1 {
		t.Errorf("mentions = %+v", res.Mentions)
	}
}

func TestRebuildMentions_SingleNode(t *testing.T) {
	svc, _, snap := seeded(t)
	ctx := context.Background()

	res, err := svc.RebuildMentions(ctx, "s1", "scene_1")
	if err != nil {
		t.Fatalf("RebuildMentions: %v", err)
	}
	if res.VersionID != snap.VersionID {
		t.Errorf("version moved to %s without mention changes", res.VersionID)
	}
	if res.Mentions.EdgesCreated != 1 || res.Mentions.EdgesRemoved != 1 ||
		len(res.Mentions.NodesProcessed) != 1 || res.Mentions.NodesProcessed[0] != "scene_1" {
		t.Errorf("mentions = %+v", res.Mentions)
	}

	for _, id := range []string{"char_john", "nope"} {
		res, err := svc.RebuildMentions(ctx, "s1", id)
		if err != nil {
			t.Fatalf("RebuildMentions(%s): %v", id, err)
		}
		if res.Mentions.EdgesCreated != 0 || len(res.Mentions.NodesProcessed) != 0 {
			t.Errorf("%s: mentions = %+v, want zero effect", id, res.Mentions)
		}
	}
}

func TestCommit_DeleteMentionsEdgeByIDRejected(t *testing.T) {
	svc, _, snap := seeded(t)
	id := snap.Graph.EdgesOfType(models.EdgeMentions)[0].ID
	_, err := svc.Commit(context.Background(), "s1", models.Patch{
		BaseVersionID: snap.VersionID,
		Ops:           []models.Op{models.DeleteEdgeOp{ID: id}},
	}, nil)
	if !errors.Is(err, apperr.ErrInvalidPatch) {
		t.Fatalf("err = %v, want ErrInvalidPatch", err)
	}
	head, _ := svc.GetGraph(context.Background(), "s1")
	if len(head.Graph.EdgesOfType(models.EdgeMentions)) != 1 {
		t.Error("MENTIONS edge was removed by a patch")
	}
}

func TestApplyProposal(t *testing.T) {
	svc, _, snap := seeded(t)
	pkg := proposal.NarrativePackage{
		ID: "pkg_1",
		Changes: proposal.Changes{
			Nodes: proposal.NodeChanges{Add: []json.RawMessage{
				json.RawMessage(`{"id":"sb_2","type":"StoryBeat","title":"Mary confronts John Smith"}`),
			}},
			Edges: proposal.EdgeChanges{Add: []models.Edge{
				{Type: models.EdgePrecedes, From: "sb_1", To: "sb_2"},
				{Type: "HATES", From: "char_mary", To: "char_john"},
			}},
			StoryContext: []models.StoryContextChange{{Operation: models.ContextAdd, Section: "Conflict", Content: "Mary distrusts John."}},
		},
	}

	res, err := svc.ApplyProposal(context.Background(), "s1", pkg, snap.VersionID)
	if err != nil {
		t.Fatalf("ApplyProposal: %v", err)
	}
	if len(res.Dropped) != 1 || res.Dropped[0].Kind != "edge_add" {
		t.Errorf("dropped = %+v", res.Dropped)
	}
	if n := len(res.Graph.OutgoingEdges("sb_2", models.EdgeMentions)); n != 2 {
		t.Errorf("sb_2 mentions = %d, want 2", n)
	}
	if res.Context == nil || !strings.Contains(res.Context.Content, "Mary distrusts John.") {
		t.Errorf("context = %+v", res.Context)
	}
}

func TestExtractMentions(t *testing.T) {
	svc, _, _ := seeded(t)
	got, err := svc.ExtractMentions(context.Background(), "s1", "Johnny walks to Blackwater Docks.")
	if err != nil {
		t.Fatalf("ExtractMentions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("mentions = %+v", got)
	}
	if _, err := svc.ExtractMentions(context.Background(), "nope", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing story err = %v", err)
	}
}

func TestContextIfMatch(t *testing.T) {
	svc, _, _ := seeded(t)
	ctx := context.Background()

	doc, err := svc.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if doc.Content != "" {
		t.Errorf("new story context = %q", doc.Content)
	}

	updated, err := svc.UpdateContext(ctx, "s1", "## Setting\n\nA port town.", doc.Checksum)
	if err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}
	if _, err := svc.UpdateContext(ctx, "s1", "stale write", doc.Checksum); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale If-Match err = %v", err)
	}

	changed, err := svc.ApplyContextChanges(ctx, "s1", []models.StoryContextChange{
		{Operation: models.ContextModify, Section: "Setting", PreviousContent: "A port town.", Content: "A dying port town."},
	}, updated.Checksum)
	if err != nil {
		t.Fatalf("ApplyContextChanges: %v", err)
	}
	if changed.Content != "## Setting\n\nA dying port town." {
		t.Errorf("content = %q", changed.Content)
	}
}

func TestGetContext_FrontmatterAndRefs(t *testing.T) {
	svc, _, _ := seeded(t)
	ctx := context.Background()

	content := "---\ntitle: Night Shift bible\ntags: [noir]\n---\n## Cast\n\n[[char_john]] owes [[char_ghost]].\n"
	if _, err := svc.UpdateContext(ctx, "s1", content, ""); err != nil {
		t.Fatalf("UpdateContext: %v", err)
	}

	doc, err := svc.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if doc.Title != "Night Shift bible" || len(doc.Tags) != 1 {
		t.Errorf("header = %q %v", doc.Title, doc.Tags)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Name != "Cast" {
		t.Errorf("sections = %+v", doc.Sections)
	}
	if len(doc.Refs) != 2 || len(doc.Unresolved) != 1 || doc.Unresolved[0] != "char_ghost" {
		t.Errorf("refs = %v unresolved = %v", doc.Refs, doc.Unresolved)
	}
}
