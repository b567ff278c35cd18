package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/patch"
	"github.com/starford/storyloom/internal/storyservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *storyservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *storyservice.Service) *Handler {
	return &Handler{svc: svc}
}

func storyID(r *http.Request) string {
	return chi.URLParam(r, "storyID")
}

// ifMatch returns the If-Match header without the surrounding ETag quotes.
func ifMatch(r *http.Request) string {
	return strings.Trim(r.Header.Get("If-Match"), `"`)
}

// ListStories handles GET /api/stories.
//
//	@Summary		List stories
//	@Tags			stories
//	@Produce		json
//	@Success		200	{object}	StoryListResponse
//	@Security		BearerAuth
//	@Router			/stories [get]
func (h *Handler) ListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := h.svc.ListStories(r.Context())
	if err != nil {
		writeError(w, "list stories", err)
		return
	}
	writeJSON(w, http.StatusOK, StoryListResponse{Stories: stories})
}

// CreateStory handles POST /api/stories.
//
//	@Summary		Create a story with an optional initial graph
//	@Tags			stories
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateStoryRequest	true	"Story to create"
//	@Success		201		{object}	Snapshot
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories [post]
func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	snap, err := h.svc.CreateStory(r.Context(), req.ID, req.Title, req.Graph)
	if err != nil {
		writeError(w, "create story", err)
		return
	}
	w.Header().Set("ETag", `"`+snap.VersionID+`"`)
	writeJSON(w, http.StatusCreated, snap)
}

// GetGraph handles GET /api/stories/{storyID}/graph.
//
//	@Summary		Get the head graph of a story
//	@Tags			graph
//	@Produce		json
//	@Param			storyID	path		string	true	"Story id"
//	@Success		200		{object}	Snapshot
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/graph [get]
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetGraph(r.Context(), storyID(r))
	if err != nil {
		writeError(w, "get graph", err)
		return
	}
	w.Header().Set("ETag", `"`+snap.VersionID+`"`)
	writeJSON(w, http.StatusOK, snap)
}

// History handles GET /api/stories/{storyID}/versions.
//
//	@Summary		List graph versions, newest first
//	@Tags			graph
//	@Produce		json
//	@Param			storyID	path		string	true	"Story id"
//	@Success		200		{object}	HistoryResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/versions [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.History(r.Context(), storyID(r))
	if err != nil {
		writeError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Versions: versions})
}

// GetVersion handles GET /api/stories/{storyID}/versions/{versionID}.
//
//	@Summary		Get one graph version
//	@Tags			graph
//	@Produce		json
//	@Param			storyID		path		string	true	"Story id"
//	@Param			versionID	path		string	true	"Version id"
//	@Success		200			{object}	Snapshot
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/versions/{versionID} [get]
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetVersion(r.Context(), storyID(r), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, "get version", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ValidatePatch handles POST /api/stories/{storyID}/validate.
// A rejected patch is still a 200: the result carries the issues.
//
//	@Summary		Dry-run a patch against the head graph
//	@Tags			patches
//	@Accept			json
//	@Produce		json
//	@Param			storyID	path		string			true	"Story id"
//	@Param			body	body		models.Patch	true	"Patch"
//	@Success		200		{object}	patch.Result
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/validate [post]
func (h *Handler) ValidatePatch(w http.ResponseWriter, r *http.Request) {
	var p models.Patch
	if !decodeBody(w, r, &p) {
		return
	}
	res, err := h.svc.ValidatePatch(r.Context(), storyID(r), p)
	if err != nil {
		writeError(w, "validate patch", err)
		return
	}
	if res.Errors == nil {
		res.Errors = []patch.Issue{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Commit handles POST /api/stories/{storyID}/patches.
//
//	@Summary		Validate, apply and commit a patch
//	@Tags			patches
//	@Accept			json
//	@Produce		json
//	@Param			storyID	path		string			true	"Story id"
//	@Param			body	body		CommitRequest	true	"Patch and optional context edits"
//	@Success		201		{object}	CommitResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/patches [post]
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Commit(r.Context(), storyID(r), req.Patch, req.StoryContext)
	if err != nil {
		writeError(w, "commit", err)
		return
	}
	w.Header().Set("ETag", `"`+res.VersionID+`"`)
	writeJSON(w, http.StatusCreated, res)
}

// ApplyProposal handles POST /api/stories/{storyID}/proposals.
//
//	@Summary		Translate and commit an AI narrative package
//	@Tags			patches
//	@Accept			json
//	@Produce		json
//	@Param			storyID	path		string			true	"Story id"
//	@Param			body	body		ProposalRequest	true	"Narrative package"
//	@Success		201		{object}	ProposalResult
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/proposals [post]
func (h *Handler) ApplyProposal(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.ApplyProposal(r.Context(), storyID(r), req.Package, req.BaseVersionID)
	if err != nil {
		writeError(w, "apply proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Revert handles POST /api/stories/{storyID}/revert.
//
//	@Summary		Store a new head version equal to an earlier one
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			storyID	path		string			true	"Story id"
//	@Param			body	body		RevertRequest	true	"Target version"
//	@Success		201		{object}	CommitResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/revert [post]
func (h *Handler) Revert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VersionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("version_id is required"))
		return
	}
	res, err := h.svc.Revert(r.Context(), storyID(r), req.VersionID)
	if err != nil {
		writeError(w, "revert", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RebuildMentions handles POST /api/stories/{storyID}/mentions/rebuild.
//
//	@Summary		Regenerate MENTIONS edges of one node or the whole graph
//	@Tags			mentions
//	@Produce		json
//	@Param			storyID	path		string	true	"Story id"
//	@Param			node_id	query		string	false	"Rebuild only this node"
//	@Success		200		{object}	CommitResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/mentions/rebuild [post]
func (h *Handler) RebuildMentions(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RebuildMentions(r.Context(), storyID(r), r.URL.Query().Get("node_id"))
	if err != nil {
		writeError(w, "rebuild mentions", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExtractMentions handles POST /api/stories/{storyID}/mentions/extract.
//
//	@Summary		Find entity mentions in free text
//	@Tags			mentions
//	@Accept			json
//	@Produce		json
//	@Param			storyID	path		string			true	"Story id"
//	@Param			body	body		ExtractRequest	true	"Text"
//	@Success		200		{object}	MentionsResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/mentions/extract [post]
func (h *Handler) ExtractMentions(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mentions, err := h.svc.ExtractMentions(r.Context(), storyID(r), req.Text)
	if err != nil {
		writeError(w, "extract mentions", err)
		return
	}
	writeJSON(w, http.StatusOK, MentionsResponse{Mentions: mentions})
}

// MentionedBy handles GET /api/stories/{storyID}/entities/{entityID}/mentioned-by.
//
//	@Summary		List nodes whose text mentions an entity
//	@Tags			mentions
//	@Produce		json
//	@Param			storyID		path		string	true	"Story id"
//	@Param			entityID	path		string	true	"Entity node id"
//	@Success		200			{object}	MentionedByResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/entities/{entityID}/mentioned-by [get]
func (h *Handler) MentionedBy(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.MentionedBy(r.Context(), storyID(r), chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, "mentioned by", err)
		return
	}
	writeJSON(w, http.StatusOK, MentionedByResponse{Mentions: rows})
}

// GetContext handles GET /api/stories/{storyID}/context.
//
//	@Summary		Get the story-context document
//	@Tags			context
//	@Produce		json
//	@Param			storyID	path		string	true	"Story id"
//	@Success		200		{object}	ContextDoc
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/context [get]
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetContext(r.Context(), storyID(r))
	if err != nil {
		writeError(w, "get context", err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// UpdateContext handles PUT /api/stories/{storyID}/context.
//
//	@Summary		Replace the story-context document with optimistic concurrency
//	@Tags			context
//	@Accept			json
//	@Produce		json
//	@Param			storyID		path		string					true	"Story id"
//	@Param			If-Match	header		string					false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		UpdateContextRequest	true	"New content"
//	@Success		200			{object}	ContextDoc
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/context [put]
func (h *Handler) UpdateContext(w http.ResponseWriter, r *http.Request) {
	var req UpdateContextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.svc.UpdateContext(r.Context(), storyID(r), req.Content, ifMatch(r))
	if err != nil {
		writeError(w, "update context", err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// ApplyContextChanges handles PATCH /api/stories/{storyID}/context.
//
//	@Summary		Apply section edits to the story-context document
//	@Tags			context
//	@Accept			json
//	@Produce		json
//	@Param			storyID		path		string					true	"Story id"
//	@Param			If-Match	header		string					false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		ContextChangesRequest	true	"Changes"
//	@Success		200			{object}	ContextDoc
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/stories/{storyID}/context [patch]
func (h *Handler) ApplyContextChanges(w http.ResponseWriter, r *http.Request) {
	var req ContextChangesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.svc.ApplyContextChanges(r.Context(), storyID(r), req.Changes, ifMatch(r))
	if err != nil {
		writeError(w, "apply context changes", err)
		return
	}
	w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across story graphs and context documents
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Search query"
//	@Param			story_id	query		string	false	"Restrict to one story"
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, r.URL.Query().Get("story_id"), limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
