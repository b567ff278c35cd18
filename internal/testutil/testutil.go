// Package testutil provides shared test helpers for setting up vaults,
// databases and story graphs.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/storyloom/internal/index"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "storyloom-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// SampleGraph returns a small detective story: two characters, a location,
// a scene and a story beat, with structural edges and no MENTIONS. Once
// mentions are rebuilt, the scene heading mentions the location and nothing
// else matches.
func SampleGraph() *models.GraphState {
	g := models.NewGraph()
	for _, n := range []models.Node{
		models.Character{ID: "char_john", Name: "John Smith", Aliases: []string{"Johnny"}},
		models.Character{ID: "char_mary", Name: "Mary"},
		models.Location{ID: "loc_docks", Name: "Blackwater Docks"},
		models.Scene{ID: "scene_1", Heading: "EXT. BLACKWATER DOCKS - NIGHT", SceneOverview: "Rain hammers the pier."},
		models.StoryBeat{ID: "sb_1", Title: "Arrival", Summary: "A stranger comes to town.", Act: 1},
	} {
		g.Nodes[n.NodeID()] = n
	}
	g.Edges = []models.Edge{
		{ID: "e_loc", Type: models.EdgeLocatedAt, From: "scene_1", To: "loc_docks"},
		{ID: "e_has", Type: models.EdgeHasCharacter, From: "scene_1", To: "char_john"},
	}
	return g
}
