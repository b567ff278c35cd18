package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/storage"
)

// watcherTestEnv sets up a vault dir, storage, and DB for watcher tests.
func watcherTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	dbFile, err := os.CreateTemp("", "storyloom-watcher-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return vaultDir, store, db
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	_ = os.MkdirAll(filepath.Join(vaultDir, "s1"), 0o755)

	go Watch(ctx, db, store, vaultDir, logger, func(kind, storyID string) {
		mu.Lock()
		events = append(events, kind+":"+storyID)
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(vaultDir, "s1", "context.md"), []byte("# Themes"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "s1", "scratch.md"), []byte("ignored"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetContextChecksum("s1")
		return cs != ""
	}, "new context document not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:s1" {
				return true
			}
		}
		return false
	}, "expected created:s1 callback")
}

func TestWatcher_CoalescesBurstOfWrites(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string

	_ = os.MkdirAll(filepath.Join(vaultDir, "s1"), 0o755)
	go Watch(ctx, db, store, vaultDir, logger, func(kind, storyID string) {
		mu.Lock()
		events = append(events, kind+":"+storyID)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(vaultDir, "s1", "context.md")
	for _, body := range []string{"one", "two", "three"} {
		_ = os.WriteFile(path, []byte(body), 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetContextChecksum("s1")
		return cs == checksum.SumString("three")
	}, "final content not indexed")

	time.Sleep(2 * settleDelay)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != EventCreated+":s1" {
		t.Errorf("events = %v, want a single created:s1", events)
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, vaultDir, logger, nil)

	time.Sleep(100 * time.Millisecond)

	subDir := filepath.Join(vaultDir, "s2")
	_ = os.MkdirAll(subDir, 0o755)

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return true
	}, "")

	_ = os.WriteFile(filepath.Join(subDir, "context.md"), []byte("# Setting"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetContextChecksum("s2")
		return cs != ""
	}, "context document in new story dir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = store.Write("s3/context.md", []byte("# Delete Me"))
	_, _ = Sync(db, store, logger)

	cs, _ := db.GetContextChecksum("s3")
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, vaultDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(vaultDir, "s3", "context.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetContextChecksum("s3")
		return cs == ""
	}, "deleted context document still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	vaultDir, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = store.Write("old/context.md", []byte("# Rename"))
	_, _ = Sync(db, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, store, vaultDir, logger, nil)
	time.Sleep(100 * time.Millisecond)

	_ = os.MkdirAll(filepath.Join(vaultDir, "renamed"), 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.Rename(filepath.Join(vaultDir, "old", "context.md"), filepath.Join(vaultDir, "renamed", "context.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetContextChecksum("old")
		newCS, _ := db.GetContextChecksum("renamed")
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old story should be removed and new story indexed")
}

func TestSync_IndexesAndPrunes(t *testing.T) {
	_, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = store.Write("a/context.md", []byte("alpha"))
	_ = db.UpsertContext(ContextRow{StoryID: "gone", Path: "gone/context.md", Checksum: "x"})

	st, err := Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if st.Indexed != 1 || st.Removed != 1 {
		t.Errorf("stats = %+v", st)
	}
	all, _ := db.AllContextChecksums()
	if _, ok := all["a"]; !ok || len(all) != 1 {
		t.Errorf("checksums after sync = %v", all)
	}
}

func TestSync_SkipsUnchanged(t *testing.T) {
	_, store, db := watcherTestEnv(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = store.Write("a/context.md", []byte("alpha"))
	if _, err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	st, err := Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if st.Unchanged != 1 || st.Indexed != 0 {
		t.Errorf("second pass stats = %+v", st)
	}
}
