// Package storyservice coordinates graph commits, mention reconciliation,
// version history and story-context documents on top of storage and index.
package storyservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/storyloom/internal/apperr"
	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/index"
	"github.com/starford/storyloom/internal/mention"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/patch"
	"github.com/starford/storyloom/internal/proposal"
	"github.com/starford/storyloom/internal/sse"
	"github.com/starford/storyloom/internal/storage"
)

// Publisher receives story change notifications.
type Publisher interface {
	PublishStoryEvent(kind, storyID, versionID string)
}

// StorySummary is a lightweight item in a list response.
type StorySummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	HeadVersionID string    `json:"head_version_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Snapshot is one version of a story graph.
type Snapshot struct {
	StoryID   string             `json:"story_id"`
	VersionID string             `json:"version_id"`
	Checksum  string             `json:"checksum"`
	Graph     *models.GraphState `json:"graph"`
}

// CommitResult describes a successful commit.
type CommitResult struct {
	StoryID         string             `json:"story_id"`
	VersionID       string             `json:"version_id"`
	ParentVersionID string             `json:"parent_version_id"`
	PatchID         string             `json:"patch_id,omitempty"`
	Mentions        mention.Result     `json:"mentions"`
	Context         *ContextDoc        `json:"context,omitempty"`
	Graph           *models.GraphState `json:"graph"`
}

// ProposalResult is a CommitResult plus the proposal changes that were
// filtered out before validation.
type ProposalResult struct {
	CommitResult
	Dropped []proposal.Dropped `json:"dropped"`
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the receiver of story change notifications.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates storage and index operations.
//
// Writes to one story are serialized by a per-story lock; the index also
// refuses a commit whose parent is no longer the head, so concurrent
// processes sharing a database cannot fork history.
type Service struct {
	store  storage.Provider
	db     index.StoryIndex
	events Publisher
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new story service.
func NewService(store storage.Provider, db index.StoryIndex, opts ...Option) *Service {
	s := &Service{
		store:  store,
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(storyID string) func() {
	s.mu.Lock()
	l, ok := s.locks[storyID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[storyID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) publish(kind, storyID, versionID string) {
	if s.events != nil {
		s.events.PublishStoryEvent(kind, storyID, versionID)
	}
}

// CreateStory registers a story whose first version is initial (an empty
// graph when nil). The initial graph is checked like a patch of ADD_NODE and
// ADD_EDGE ops; MENTIONS edges in it are ignored and rebuilt.
func (s *Service) CreateStory(_ context.Context, id, title string, initial *models.GraphState) (*Snapshot, error) {
	if !storage.ValidStoryID(id) {
		return nil, fmt.Errorf("%w: story id %q", apperr.ErrInvalidInput, id)
	}
	if initial == nil {
		initial = models.NewGraph()
	}

	seed := seedPatch(initial)
	if res := patch.Validate(models.NewGraph(), seed); !res.Success {
		return nil, &ValidationError{Issues: res.Errors}
	}
	g, err := patch.Apply(models.NewGraph(), seed)
	if err != nil {
		return nil, fmt.Errorf("storyservice: seed graph: %w", err)
	}
	g, _ = mention.RebuildAll(g)

	now := s.now().UTC()
	v, err := s.newVersion(id, "", seed, g, now)
	if err != nil {
		return nil, err
	}
	row := index.StoryRow{ID: id, Title: title, CreatedAt: now}
	if err := s.db.CreateStory(row, v, index.HeadRowsFromGraph(g)); err != nil {
		return nil, err
	}

	s.logger.Info("story created", slog.String("story_id", id), slog.String("version_id", v.ID))
	s.publish(sse.KindCreated, id, v.ID)
	return &Snapshot{StoryID: id, VersionID: v.ID, Checksum: v.Checksum, Graph: g}, nil
}

// ListStories returns every story, most recently updated first.
func (s *Service) ListStories(_ context.Context) ([]StorySummary, error) {
	rows, err := s.db.ListStories()
	if err != nil {
		return nil, err
	}
	out := make([]StorySummary, len(rows))
	for i, r := range rows {
		out[i] = StorySummary{
			ID:            r.ID,
			Title:         r.Title,
			HeadVersionID: r.HeadVersionID,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		}
	}
	return out, nil
}

// GetGraph returns the head version of a story.
func (s *Service) GetGraph(_ context.Context, storyID string) (*Snapshot, error) {
	return s.head(storyID)
}

// GetVersion returns a specific version of a story.
func (s *Service) GetVersion(_ context.Context, storyID, versionID string) (*Snapshot, error) {
	return s.loadVersion(storyID, versionID)
}

// History lists the versions of a story, newest first.
func (s *Service) History(_ context.Context, storyID string) ([]index.VersionMeta, error) {
	if _, err := s.db.GetStory(storyID); err != nil {
		return nil, err
	}
	versions, err := s.db.ListVersions(storyID)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(versions), nil
}

// ValidatePatch checks p against the head graph without committing it.
func (s *Service) ValidatePatch(_ context.Context, storyID string, p models.Patch) (patch.Result, error) {
	snap, err := s.head(storyID)
	if err != nil {
		return patch.Result{}, err
	}
	return patch.Validate(snap.Graph, p), nil
}

// Commit validates p against the head graph, applies it, reconciles
// mentions, applies any story-context changes and stores a new version.
//
// A non-empty p.BaseVersionID that is not the current head yields
// apperr.ErrConflict. A patch failing validation yields a *ValidationError
// and nothing is stored.
func (s *Service) Commit(ctx context.Context, storyID string, p models.Patch, changes []models.StoryContextChange) (*CommitResult, error) {
	unlock := s.lock(storyID)
	defer unlock()
	return s.commitLocked(ctx, storyID, p, changes)
}

func (s *Service) commitLocked(_ context.Context, storyID string, p models.Patch, changes []models.StoryContextChange) (*CommitResult, error) {
	snap, err := s.head(storyID)
	if err != nil {
		return nil, err
	}
	if p.BaseVersionID != "" && p.BaseVersionID != snap.VersionID {
		return nil, fmt.Errorf("%w: base version %s is not head %s", apperr.ErrConflict, p.BaseVersionID, snap.VersionID)
	}
	if p.ID == "" {
		p.ID = "patch_" + uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.BaseVersionID == "" {
		p.BaseVersionID = snap.VersionID
	}

	if res := patch.Validate(snap.Graph, p); !res.Success {
		s.logger.Info("patch rejected",
			slog.String("story_id", storyID),
			slog.String("patch_id", p.ID),
			slog.Int("issues", len(res.Errors)))
		return nil, &ValidationError{Issues: res.Errors}
	}
	g, err := patch.Apply(snap.Graph, p)
	if err != nil {
		return nil, fmt.Errorf("storyservice: apply: %w", err)
	}
	g, mres := reconcile(snap.Graph, g, p)

	var doc *ContextDoc
	var newContext string
	if len(changes) > 0 {
		current, err := s.readContext(storyID)
		if err != nil {
			return nil, err
		}
		newContext = applyContextChanges(current.Content, changes)
	}

	v, err := s.newVersion(storyID, snap.VersionID, p, g, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.db.CommitVersion(storyID, snap.VersionID, v, index.HeadRowsFromGraph(g)); err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		doc, err = s.writeContext(storyID, newContext)
		if err != nil {
			return nil, fmt.Errorf("storyservice: version %s committed but context write failed: %w", v.ID, err)
		}
	}

	s.logger.Info("patch committed",
		slog.String("story_id", storyID),
		slog.String("patch_id", p.ID),
		slog.String("version_id", v.ID),
		slog.Int("ops", len(p.Ops)),
		slog.Int("mentions_created", mres.EdgesCreated),
		slog.Int("mentions_removed", mres.EdgesRemoved))
	s.publish(sse.KindCommitted, storyID, v.ID)
	if doc != nil {
		s.publish(sse.KindContext, storyID, v.ID)
	}

	return &CommitResult{
		StoryID:         storyID,
		VersionID:       v.ID,
		ParentVersionID: snap.VersionID,
		PatchID:         p.ID,
		Mentions:        mres,
		Context:         doc,
		Graph:           g,
	}, nil
}

// ApplyProposal translates a narrative package into a patch against
// baseVersionID (the head when empty) and commits it together with the
// package's story-context changes.
func (s *Service) ApplyProposal(ctx context.Context, storyID string, pkg proposal.NarrativePackage, baseVersionID string) (*ProposalResult, error) {
	unlock := s.lock(storyID)
	defer unlock()

	tr, err := proposal.Translate(pkg, baseVersionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	for _, d := range tr.Dropped {
		s.logger.Warn("proposal change dropped",
			slog.String("story_id", storyID),
			slog.String("package_id", pkg.ID),
			slog.String("kind", d.Kind),
			slog.String("detail", d.Detail),
			slog.String("reason", d.Reason))
	}

	res, err := s.commitLocked(ctx, storyID, tr.Patch, tr.ContextChanges)
	if err != nil {
		return nil, err
	}
	return &ProposalResult{CommitResult: *res, Dropped: nonNilSlice(tr.Dropped)}, nil
}

// RebuildMentions regenerates the MENTIONS edges of the head graph: those of
// nodeID only, or every one when nodeID is empty. A missing or non-source
// node is a no-op. A new version is stored only when the edges changed.
func (s *Service) RebuildMentions(_ context.Context, storyID, nodeID string) (*CommitResult, error) {
	unlock := s.lock(storyID)
	defer unlock()

	snap, err := s.head(storyID)
	if err != nil {
		return nil, err
	}
	var (
		g    *models.GraphState
		mres mention.Result
	)
	if nodeID != "" {
		g, mres = mention.RebuildForNode(snap.Graph, nodeID)
	} else {
		g, mres = mention.RebuildAll(snap.Graph)
	}
	if sameMentions(snap.Graph, g) {
		return &CommitResult{
			StoryID:         storyID,
			VersionID:       snap.VersionID,
			ParentVersionID: snap.VersionID,
			Mentions:        mres,
			Graph:           snap.Graph,
		}, nil
	}

	p := models.Patch{
		ID:            "rebuild_" + uuid.NewString(),
		BaseVersionID: snap.VersionID,
		CreatedAt:     s.now().UTC(),
		Ops:           []models.Op{},
		Metadata:      map[string]any{"source": "rebuild_mentions", "node_id": nodeID},
	}
	return s.storeGraph(storyID, snap.VersionID, p, g, mres)
}

// Revert moves the head back to the graph of versionID by storing a new
// version with that graph. History is never rewritten.
func (s *Service) Revert(_ context.Context, storyID, versionID string) (*CommitResult, error) {
	unlock := s.lock(storyID)
	defer unlock()

	head, err := s.head(storyID)
	if err != nil {
		return nil, err
	}
	target, err := s.loadVersion(storyID, versionID)
	if err != nil {
		return nil, err
	}
	p := models.Patch{
		ID:            "revert_" + uuid.NewString(),
		BaseVersionID: head.VersionID,
		CreatedAt:     s.now().UTC(),
		Ops:           []models.Op{},
		Metadata:      map[string]any{"source": "revert", "reverted_to": versionID},
	}
	return s.storeGraph(storyID, head.VersionID, p, target.Graph, mention.Result{NodesProcessed: []string{}})
}

// ExtractMentions runs the mention extractor over text using the head
// graph's entity catalog.
func (s *Service) ExtractMentions(_ context.Context, storyID, text string) ([]models.Mention, error) {
	snap, err := s.head(storyID)
	if err != nil {
		return nil, err
	}
	return mention.Extract(text, mention.Catalog(snap.Graph)), nil
}

// MentionedBy lists the head MENTIONS edges that point at entityID.
func (s *Service) MentionedBy(_ context.Context, storyID, entityID string) ([]index.MentionRow, error) {
	if _, err := s.db.GetStory(storyID); err != nil {
		return nil, err
	}
	rows, err := s.db.MentionedBy(storyID, entityID)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(rows), nil
}

// Search delegates full-text search to the index. An empty storyID
// searches every story.
func (s *Service) Search(_ context.Context, query, storyID string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, storyID, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// storeGraph persists g as a new version without running the validator.
// The caller holds the story lock.
func (s *Service) storeGraph(storyID, parent string, p models.Patch, g *models.GraphState, mres mention.Result) (*CommitResult, error) {
	v, err := s.newVersion(storyID, parent, p, g, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := s.db.CommitVersion(storyID, parent, v, index.HeadRowsFromGraph(g)); err != nil {
		return nil, err
	}
	s.logger.Info("graph stored",
		slog.String("story_id", storyID),
		slog.String("version_id", v.ID),
		slog.Any("source", p.Metadata["source"]))
	s.publish(sse.KindCommitted, storyID, v.ID)
	return &CommitResult{
		StoryID:         storyID,
		VersionID:       v.ID,
		ParentVersionID: parent,
		PatchID:         p.ID,
		Mentions:        mres,
		Graph:           g,
	}, nil
}

func (s *Service) head(storyID string) (*Snapshot, error) {
	st, err := s.db.GetStory(storyID)
	if err != nil {
		return nil, err
	}
	return s.loadVersion(storyID, st.HeadVersionID)
}

func (s *Service) loadVersion(storyID, versionID string) (*Snapshot, error) {
	v, err := s.db.GetVersion(storyID, versionID)
	if err != nil {
		return nil, err
	}
	g := models.NewGraph()
	if err := json.Unmarshal(v.Graph, g); err != nil {
		return nil, fmt.Errorf("storyservice: decode version %s: %w", versionID, err)
	}
	return &Snapshot{StoryID: storyID, VersionID: v.ID, Checksum: v.Checksum, Graph: g}, nil
}

func (s *Service) newVersion(storyID, parent string, p models.Patch, g *models.GraphState, at time.Time) (index.VersionRow, error) {
	sum, graphJSON, err := checksum.SumJSON(g)
	if err != nil {
		return index.VersionRow{}, fmt.Errorf("storyservice: encode graph: %w", err)
	}
	patchJSON, err := json.Marshal(p)
	if err != nil {
		return index.VersionRow{}, fmt.Errorf("storyservice: encode patch: %w", err)
	}
	return index.VersionRow{
		ID:        "ver_" + uuid.NewString(),
		StoryID:   storyID,
		ParentID:  parent,
		PatchID:   p.ID,
		Patch:     patchJSON,
		Graph:     graphJSON,
		Checksum:  sum,
		CreatedAt: at,
	}, nil
}

// seedPatch expresses g as ADD_NODE and ADD_EDGE ops so an initial graph
// passes through the same checks as any patch.
func seedPatch(g *models.GraphState) models.Patch {
	p := models.Patch{
		ID:       "seed_" + uuid.NewString(),
		Ops:      []models.Op{},
		Metadata: map[string]any{"source": "create_story"},
	}
	for _, id := range g.NodeIDs() {
		p.Ops = append(p.Ops, models.AddNodeOp{Node: g.Nodes[id]})
	}
	for _, e := range g.Edges {
		if models.DerivedEdgeType(e.Type) {
			continue
		}
		p.Ops = append(p.Ops, models.AddEdgeOp{Edge: e})
	}
	return p
}

// reconcile refreshes MENTIONS edges after p turned before into after.
// Touching a catalog entity can change matches anywhere, so that case
// rebuilds the whole graph; otherwise only the touched sources are rebuilt.
func reconcile(before, after *models.GraphState, p models.Patch) (*models.GraphState, mention.Result) {
	isEntity := func(id string) bool {
		if n, ok := after.Node(id); ok {
			return mention.IsEntity(n.NodeType())
		}
		if n, ok := before.Node(id); ok {
			return mention.IsEntity(n.NodeType())
		}
		return false
	}

	var touched []string
	entityTouched := false
	for _, op := range p.Ops {
		switch o := op.(type) {
		case models.AddNodeOp:
			touched = append(touched, o.Node.NodeID())
			entityTouched = entityTouched || mention.IsEntity(o.Node.NodeType())
		case models.UpdateNodeOp:
			touched = append(touched, o.ID)
			entityTouched = entityTouched || isEntity(o.ID)
		case models.DeleteNodeOp:
			entityTouched = entityTouched || isEntity(o.ID)
		}
	}
	if entityTouched {
		return mention.RebuildAll(after)
	}
	return mention.Rebuild(after, touched)
}

func sameMentions(a, b *models.GraphState) bool {
	x, y := a.EdgesOfType(models.EdgeMentions), b.EdgesOfType(models.EdgeMentions)
	if len(x) != len(y) {
		return false
	}
	seen := make(map[string]models.Edge, len(x))
	for _, e := range x {
		seen[e.ID] = e
	}
	for _, e := range y {
		old, ok := seen[e.ID]
		if !ok || old.Properties[mention.PropMatchedText] != e.Properties[mention.PropMatchedText] ||
			old.Properties[mention.PropConfidence] != e.Properties[mention.PropConfidence] {
			return false
		}
	}
	return true
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
