//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over the nodes and contexts tables.
	return nil
}

func ftsInsert(_ *sql.Tx, _, _, _, _, _ string) error { return nil }

func ftsDeleteNodes(_ *sql.Tx, _ string) error { return nil }

func ftsUpsertContext(_ *sql.Tx, _, _ string) error { return nil }

func ftsDeleteContext(_ *sql.Tx, _ string) error { return nil }

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
// An empty storyID searches every story.
func (db *DB) Search(query, storyID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := likePattern(query)
	rows, err := db.conn.Query(`
		SELECT story_id, node_id, type, label, substr(body, 1, 200)
		FROM nodes
		WHERE (label LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\') AND (? = '' OR story_id = ?)
		UNION ALL
		SELECT story_id, ?, ?, '', substr(body, 1, 200)
		FROM contexts
		WHERE body LIKE ? ESCAPE '\' AND (? = '' OR story_id = ?)
		LIMIT ?
	`, like, like, storyID, storyID, contextRef, contextRef, like, storyID, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.StoryID, &r.Ref, &r.Kind, &r.Label, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
