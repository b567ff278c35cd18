// Package storage defines the vault file-system abstraction that holds
// story-context documents.
package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/starford/storyloom/internal/models"
)

// ContextFile is the file name of a story-context document inside its story directory.
const ContextFile = "context.md"

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns metadata for the context document of storyID, or of
	// every story when storyID is empty.
	List(storyID string) ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
}

var storyIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidStoryID reports whether id is usable as a story directory name.
func ValidStoryID(id string) bool {
	return storyIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// ContextPath returns the vault-relative path of a story's context document.
func ContextPath(storyID string) (string, error) {
	if !ValidStoryID(storyID) {
		return "", fmt.Errorf("storage: invalid story id %q", storyID)
	}
	return path.Join(storyID, ContextFile), nil
}

// StoryIDFromPath is the inverse of ContextPath. It reports false for paths
// that are not story-context documents.
func StoryIDFromPath(rel string) (string, bool) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	dir, file := path.Split(rel)
	if file != ContextFile {
		return "", false
	}
	id := strings.TrimSuffix(dir, "/")
	if strings.Contains(id, "/") || !ValidStoryID(id) {
		return "", false
	}
	return id, true
}
