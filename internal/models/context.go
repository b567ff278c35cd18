package models

import "time"

// ContextOperation is the kind of a story-context change.
type ContextOperation string

// Story-context change operations.
const (
	ContextAdd    ContextOperation = "add"
	ContextModify ContextOperation = "modify"
	ContextDelete ContextOperation = "delete"
)

// StoryContextChange is one targeted edit to a story-context document.
type StoryContextChange struct {
	Operation       ContextOperation `json:"operation"`
	Section         string           `json:"section"`
	Content         string           `json:"content"`
	PreviousContent string           `json:"previous_content,omitempty"`
}

// DocumentMetadata is a lightweight representation of a stored document,
// returned by vault list operations.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
