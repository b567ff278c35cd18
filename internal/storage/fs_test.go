package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("## Themes\nGuilt.\n")
	if err := s.Write("s1/context.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("s1/context.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("s1/context.md", []byte("bye"))
	if err := s.Delete("s1/context.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("s1/context.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if _, err := os.Stat(filepath.Join(s.root, "s1")); !os.IsNotExist(err) {
		t.Errorf("empty story dir should be removed, stat err = %v", err)
	}
	if err := s.Delete(""); err == nil {
		t.Error("deleting the vault root should fail")
	}
}

func TestDelete_KeepsNonEmptyDir(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("s1/context.md", []byte("a"))
	_ = s.Write("s1/draft.md", []byte("b"))
	if err := s.Delete("s1/context.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("s1/draft.md"); err != nil {
		t.Errorf("sibling file removed: %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("story_a/context.md", []byte("a"))
	_ = s.Write("story_b/context.md", []byte("b"))
	_ = s.Write("story_b/notes.md", []byte("not context"))
	_ = s.Write("deep/nested/context.md", []byte("too deep"))
	_ = s.Write("context.md", []byte("no story"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("missing checksum for %s", it.Path)
		}
	}

	one, err := s.List("story_b")
	if err != nil {
		t.Fatalf("List(story_b): %v", err)
	}
	if len(one) != 1 || one[0].Path != "story_b/context.md" {
		t.Errorf("List(story_b) = %+v", one)
	}
	if none, _ := s.List("missing"); len(none) != 0 {
		t.Errorf("List(missing) = %+v", none)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempVault(t)
	original := []byte("original content")
	_ = s.Write("s1/context.md", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("s1/context.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("s1/context.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, "s1", ".storyloom-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/storyloom-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "storyloom-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestContextPath(t *testing.T) {
	p, err := ContextPath("story_1")
	if err != nil {
		t.Fatalf("ContextPath: %v", err)
	}
	if p != "story_1/context.md" {
		t.Errorf("path = %q", p)
	}
	id, ok := StoryIDFromPath(p)
	if !ok || id != "story_1" {
		t.Errorf("StoryIDFromPath(%q) = %q, %v", p, id, ok)
	}

	for _, bad := range []string{"", "../x", "a/b", ".hidden", "a..b"} {
		if _, err := ContextPath(bad); err == nil {
			t.Errorf("expected error for story id %q", bad)
		}
	}
	for _, rel := range []string{"context.md", "a/b/context.md", "a/notes.md"} {
		if _, ok := StoryIDFromPath(rel); ok {
			t.Errorf("StoryIDFromPath(%q) should not match", rel)
		}
	}
}
