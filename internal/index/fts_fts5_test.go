//go:build sqlite_fts5

package index

import (
	"testing"
	"time"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM story_fts`).Scan(&count); err != nil {
		t.Fatalf("story_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	seedStory(t, db)

	results, err := db.Search("detective", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Ref != "char_john" || results[0].StoryID != "s1" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_CommitReplacesNodeRows(t *testing.T) {
	db := testDB(t)
	seedStory(t, db)
	_ = db.UpsertContext(ContextRow{StoryID: "s1", Path: "s1/context.md", Checksum: "a", Body: "detective noir"})

	head := HeadRows{Nodes: []NodeRow{{ID: "sb1", Type: "StoryBeat", Label: "Arrival", Body: "replacement text"}}}
	v2 := VersionRow{ID: "v2", StoryID: "s1", ParentID: "v1", Graph: []byte("{}"), CreatedAt: time.Now().UTC()}
	if err := db.CommitVersion("s1", "v1", v2, head); err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}

	results, _ := db.Search("detective", "s1", 10)
	if len(results) != 1 || results[0].Ref != contextRef {
		t.Errorf("old node rows should be gone, context kept: %+v", results)
	}
	results, _ = db.Search("replacement", "s1", 10)
	if len(results) != 1 || results[0].Label != "Arrival" {
		t.Errorf("FTS not updated: %+v", results)
	}
}

func TestFTS5_DeleteContextRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertContext(ContextRow{StoryID: "s9", Path: "s9/context.md", Checksum: "g", Body: "vanishing content"})
	_ = db.DeleteContext("s9")

	results, _ := db.Search("vanishing", "", 10)
	if len(results) != 0 {
		t.Errorf("deleted context still in FTS index: %+v", results)
	}
}

func TestMatchQuery_QuotesTerms(t *testing.T) {
	got := matchQuery(`John's "big" NEAR`)
	want := `"John's" """big""" "NEAR"`
	if got != want {
		t.Errorf("matchQuery = %s, want %s", got, want)
	}

	db := testDB(t)
	seedStory(t, db)
	if _, err := db.Search(`detective's (case`, "", 10); err != nil {
		t.Errorf("punctuation broke search: %v", err)
	}
}
