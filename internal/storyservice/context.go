package storyservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/starford/storyloom/internal/apperr"
	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/index"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/parser"
	"github.com/starford/storyloom/internal/sse"
	"github.com/starford/storyloom/internal/storage"
	"github.com/starford/storyloom/internal/storycontext"
)

// ContextDoc is the full representation of a story-context document.
// A story without a document yet has empty Content.
type ContextDoc struct {
	StoryID  string                 `json:"story_id"`
	Path     string                 `json:"path"`
	Content  string                 `json:"content"`
	Checksum string                 `json:"checksum"`
	Title    string                 `json:"title,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Sections []storycontext.Section `json:"sections"`
	// Refs are the [[node_id]] references in the body. Unresolved lists
	// those naming no node of the head graph; only GetContext fills it.
	Refs       []string `json:"refs"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// GetContext reads the story-context document of a story.
func (s *Service) GetContext(_ context.Context, storyID string) (*ContextDoc, error) {
	snap, err := s.head(storyID)
	if err != nil {
		return nil, err
	}
	doc, err := s.readContext(storyID)
	if err != nil {
		return nil, err
	}
	for _, ref := range doc.Refs {
		if _, ok := snap.Graph.Nodes[ref]; !ok {
			doc.Unresolved = append(doc.Unresolved, ref)
		}
	}
	return doc, nil
}

// UpdateContext replaces the document with content. A non-empty ifMatch
// must equal the current checksum, otherwise apperr.ErrConflict.
func (s *Service) UpdateContext(_ context.Context, storyID, content, ifMatch string) (*ContextDoc, error) {
	unlock := s.lock(storyID)
	defer unlock()

	current, err := s.currentContext(storyID, ifMatch)
	if err != nil {
		return nil, err
	}
	if current.Content == content {
		return current, nil
	}
	return s.commitContext(storyID, content)
}

// ApplyContextChanges applies targeted section edits to the document.
// A non-empty ifMatch must equal the current checksum.
func (s *Service) ApplyContextChanges(_ context.Context, storyID string, changes []models.StoryContextChange, ifMatch string) (*ContextDoc, error) {
	unlock := s.lock(storyID)
	defer unlock()

	current, err := s.currentContext(storyID, ifMatch)
	if err != nil {
		return nil, err
	}
	next := applyContextChanges(current.Content, changes)
	if next == current.Content {
		return current, nil
	}
	return s.commitContext(storyID, next)
}

func (s *Service) currentContext(storyID, ifMatch string) (*ContextDoc, error) {
	if _, err := s.db.GetStory(storyID); err != nil {
		return nil, err
	}
	current, err := s.readContext(storyID)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != current.Checksum {
		return nil, fmt.Errorf("%w: context checksum mismatch", apperr.ErrConflict)
	}
	return current, nil
}

func (s *Service) commitContext(storyID, content string) (*ContextDoc, error) {
	doc, err := s.writeContext(storyID, content)
	if err != nil {
		return nil, err
	}
	s.logger.Info("context updated", slog.String("story_id", storyID), slog.String("checksum", doc.Checksum))
	s.publish(sse.KindContext, storyID, "")
	return doc, nil
}

func (s *Service) readContext(storyID string) (*ContextDoc, error) {
	path, err := storage.ContextPath(storyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			data = nil
		} else {
			return nil, err
		}
	}
	return newContextDoc(storyID, path, string(data)), nil
}

// writeContext stores content and indexes it right away so search sees it
// before the watcher does.
func (s *Service) writeContext(storyID, content string) (*ContextDoc, error) {
	path, err := storage.ContextPath(storyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	data := []byte(content)
	if err := s.store.Write(path, data); err != nil {
		return nil, err
	}
	if err := s.db.UpsertContext(index.ContextRow{
		StoryID:   storyID,
		Path:      path,
		Checksum:  checksum.Sum(data),
		Body:      content,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	return newContextDoc(storyID, path, content), nil
}

func applyContextChanges(doc string, changes []models.StoryContextChange) string {
	if len(changes) == 0 {
		return doc
	}
	return storycontext.Apply(doc, changes)
}

func newContextDoc(storyID, path, content string) *ContextDoc {
	parsed := parser.Parse([]byte(content))
	return &ContextDoc{
		StoryID:  storyID,
		Path:     path,
		Content:  content,
		Checksum: checksum.SumString(content),
		Title:    parsed.Header.Title,
		Tags:     parsed.Header.Tags,
		Sections: nonNilSlice(storycontext.Sections(parsed.Body)),
		Refs:     nonNilSlice(parsed.Refs),
	}
}
