package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/storage"
)

// Watcher event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// settleDelay is how long a story must stay quiet before its document is
// re-read. Editors that save via temp file and rename emit several events
// per save.
const settleDelay = 150 * time.Millisecond

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind string, storyID string)

type watcher struct {
	db     *DB
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback

	pending   map[string]struct{}
	reconcile bool
}

// Watch starts an fsnotify watcher on the vault root and keeps the context
// index in line with edits made outside the service until ctx is cancelled.
// It calls cb (if non-nil) after each index mutation.
//
// The vault root and every story directory are watched. Events are
// coalesced per story; directory renames and removals trigger a full
// reconciliation against the vault.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(vaultRoot); err != nil {
		return err
	}
	entries, err := os.ReadDir(vaultRoot)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && storage.ValidStoryID(e.Name()) {
			if err := fw.Add(filepath.Join(vaultRoot, e.Name())); err != nil {
				return err
			}
		}
	}

	w := &watcher{
		db:      db,
		store:   store,
		root:    vaultRoot,
		logger:  logger,
		cb:      cb,
		pending: make(map[string]struct{}),
	}
	logger.Info("watcher: started", slog.String("root", vaultRoot))

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			w.flush()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(fw, ev) {
				settle.Reset(settleDelay)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handle records what ev affects and reports whether a flush is needed.
func (w *watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	// A story directory itself.
	if storage.ValidStoryID(rel) {
		switch {
		case ev.Op&fsnotify.Create != 0:
			if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
				if addErr := fw.Add(ev.Name); addErr != nil {
					w.logger.Warn("watcher: add story dir failed",
						slog.String("path", rel),
						slog.String("error", addErr.Error()))
				}
				// The document may have landed before the watch did.
				w.pending[rel] = struct{}{}
				return true
			}
		case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
			w.reconcile = true
			return true
		}
		return false
	}

	storyID, ok := storage.StoryIDFromPath(rel)
	if !ok {
		return false
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if ev.Op&fsnotify.Rename != 0 {
		// fsnotify reports only the old name; the new one arrives as a
		// Create if it stays inside a watched directory.
		w.reconcile = true
	}
	w.pending[storyID] = struct{}{}
	return true
}

// flush re-reads every pending story, then reconciles if asked to.
func (w *watcher) flush() {
	for storyID := range w.pending {
		w.refresh(storyID)
	}
	clear(w.pending)

	if w.reconcile {
		w.reconcile = false
		w.reconcileAll()
	}
}

// refresh brings the index entry of one story in line with the disk.
func (w *watcher) refresh(storyID string) {
	rel, err := storage.ContextPath(storyID)
	if err != nil {
		return
	}
	prev, err := w.db.GetContextChecksum(storyID)
	if err != nil {
		w.logger.Warn("watcher: checksum lookup failed", slog.String("story_id", storyID), slog.String("error", err.Error()))
		return
	}

	data, err := w.store.Read(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if prev == "" {
			return
		}
		if delErr := w.db.DeleteContext(storyID); delErr != nil {
			w.logger.Warn("watcher: delete failed", slog.String("story_id", storyID), slog.String("error", delErr.Error()))
			return
		}
		w.notify(EventDeleted, storyID)
	case err != nil:
		w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
	case prev == checksum.Sum(data):
		// Unchanged, usually the service's own write.
	default:
		if idxErr := IndexContext(w.db, rel, data); idxErr != nil {
			w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
			return
		}
		kind := EventUpdated
		if prev == "" {
			kind = EventCreated
		}
		w.notify(kind, storyID)
	}
}

// reconcileAll refreshes every story that is either indexed or on disk.
func (w *watcher) reconcileAll() {
	checksums, err := w.db.AllContextChecksums()
	if err != nil {
		w.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	ids := make(map[string]struct{}, len(checksums)+len(metas))
	for id := range checksums {
		ids[id] = struct{}{}
	}
	for _, m := range metas {
		if id, ok := storage.StoryIDFromPath(m.Path); ok {
			ids[id] = struct{}{}
		}
	}
	for id := range ids {
		w.refresh(id)
	}
}

func (w *watcher) notify(kind, storyID string) {
	w.logger.Debug("watcher: indexed", slog.String("story_id", storyID), slog.String("op", kind))
	if w.cb != nil {
		w.cb(kind, storyID)
	}
}
