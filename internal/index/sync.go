package index

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/storage"
)

// SyncStats counts what a Sync pass changed.
type SyncStats struct {
	Indexed   int
	Unchanged int
	Removed   int
	Failed    int
}

// Sync reconciles the context index with the vault. Documents whose checksum
// differs from the indexed one are re-indexed and rows for stories that no
// longer have a document are dropped. Per-document failures are logged and
// counted; only listing errors abort the pass.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) (SyncStats, error) {
	var st SyncStats

	metas, err := store.List("")
	if err != nil {
		return st, fmt.Errorf("index: sync list: %w", err)
	}
	indexed, err := db.AllContextChecksums()
	if err != nil {
		return st, err
	}

	onDisk := make(map[string]bool, len(metas))
	for _, m := range metas {
		storyID, ok := storage.StoryIDFromPath(m.Path)
		if !ok {
			continue
		}
		onDisk[storyID] = true
		if indexed[storyID] == m.Checksum {
			st.Unchanged++
			continue
		}
		if err := reindex(db, store, m.Path); err != nil {
			st.Failed++
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		st.Indexed++
	}

	for storyID := range indexed {
		if onDisk[storyID] {
			continue
		}
		if err := db.DeleteContext(storyID); err != nil {
			st.Failed++
			logger.Warn("sync: delete failed", slog.String("story_id", storyID), slog.String("error", err.Error()))
			continue
		}
		st.Removed++
	}

	logger.Debug("sync: done",
		slog.Int("indexed", st.Indexed),
		slog.Int("unchanged", st.Unchanged),
		slog.Int("removed", st.Removed),
		slog.Int("failed", st.Failed))
	return st, nil
}

func reindex(db StoryIndex, store storage.Provider, rel string) error {
	data, err := store.Read(rel)
	if err != nil {
		return err
	}
	return IndexContext(db, rel, data)
}

// IndexContext upserts the context document stored at rel with content data.
func IndexContext(db StoryIndex, rel string, data []byte) error {
	storyID, ok := storage.StoryIDFromPath(rel)
	if !ok {
		return fmt.Errorf("index: not a context document: %s", rel)
	}
	return db.UpsertContext(ContextRow{
		StoryID:   storyID,
		Path:      rel,
		Checksum:  checksum.Sum(data),
		Body:      string(data),
		UpdatedAt: time.Now().UTC(),
	})
}
