package api

import (
	"github.com/starford/storyloom/internal/index"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/proposal"
	"github.com/starford/storyloom/internal/storyservice"
)

// CreateStoryRequest is the request body for creating a story.
type CreateStoryRequest struct {
	ID    string             `json:"id" example:"night-shift" validate:"required"`
	Title string             `json:"title" example:"Night Shift"`
	Graph *models.GraphState `json:"graph,omitempty"`
}

// CommitRequest is the request body for committing a patch, optionally with
// story-context edits applied in the same commit.
type CommitRequest struct {
	Patch        models.Patch                `json:"patch" validate:"required"`
	StoryContext []models.StoryContextChange `json:"story_context,omitempty"`
}

// ProposalRequest is the request body for applying a narrative package.
type ProposalRequest struct {
	Package       proposal.NarrativePackage `json:"package" validate:"required"`
	BaseVersionID string                    `json:"base_story_version_id,omitempty"`
}

// RevertRequest is the request body for reverting to an earlier version.
type RevertRequest struct {
	VersionID string `json:"version_id" example:"ver_0b9c..." validate:"required"`
}

// ExtractRequest is the request body for ad-hoc mention extraction.
type ExtractRequest struct {
	Text string `json:"text" example:"John walks to the docks." validate:"required"`
}

// UpdateContextRequest is the request body for replacing a context document.
type UpdateContextRequest struct {
	Content string `json:"content" example:"## Themes\n\nLoyalty." validate:"required"`
}

// ContextChangesRequest is the request body for targeted context edits.
type ContextChangesRequest struct {
	Changes []models.StoryContextChange `json:"changes" validate:"required"`
}

// Response types aliased from the domain layer.
type (
	StorySummary   = storyservice.StorySummary
	Snapshot       = storyservice.Snapshot
	CommitResult   = storyservice.CommitResult
	ProposalResult = storyservice.ProposalResult
	ContextDoc     = storyservice.ContextDoc
	VersionMeta    = index.VersionMeta
	MentionRow     = index.MentionRow
	SearchResult   = index.SearchResult
)

// StoryListResponse wraps story listings.
type StoryListResponse struct {
	Stories []StorySummary `json:"stories" validate:"required"`
}

// HistoryResponse wraps version listings.
type HistoryResponse struct {
	Versions []VersionMeta `json:"versions" validate:"required"`
}

// MentionsResponse wraps extracted mentions.
type MentionsResponse struct {
	Mentions []models.Mention `json:"mentions" validate:"required"`
}

// MentionedByResponse wraps the MENTIONS edges pointing at an entity.
type MentionedByResponse struct {
	Mentions []MentionRow `json:"mentions" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}
