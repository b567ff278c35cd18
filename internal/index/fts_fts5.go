//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS story_fts USING fts5(
			story_id UNINDEXED,
			ref UNINDEXED,
			kind UNINDEXED,
			label,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, storyID, ref, kind, label, body string) error {
	_, err := tx.Exec(`INSERT INTO story_fts (story_id, ref, kind, label, body) VALUES (?, ?, ?, ?, ?)`,
		storyID, ref, kind, label, body)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDeleteNodes(tx *sql.Tx, storyID string) error {
	if _, err := tx.Exec(`DELETE FROM story_fts WHERE story_id = ? AND ref != ?`, storyID, contextRef); err != nil {
		return fmt.Errorf("index: delete fts nodes: %w", err)
	}
	return nil
}

func ftsUpsertContext(tx *sql.Tx, storyID, body string) error {
	if err := ftsDeleteContext(tx, storyID); err != nil {
		return err
	}
	return ftsInsert(tx, storyID, contextRef, contextRef, "", body)
}

func ftsDeleteContext(tx *sql.Tx, storyID string) error {
	if _, err := tx.Exec(`DELETE FROM story_fts WHERE story_id = ? AND ref = ?`, storyID, contextRef); err != nil {
		return fmt.Errorf("index: delete fts context: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search over head nodes and context
// documents. An empty storyID searches every story.
func (db *DB) Search(query, storyID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT story_id, ref, kind, label,
		       snippet(story_fts, 4, '<b>', '</b>', '...', 64)
		FROM story_fts
		WHERE story_fts MATCH ? AND (? = '' OR story_id = ?)
		ORDER BY rank
		LIMIT ?
	`, matchQuery(query), storyID, storyID, limit)
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

// matchQuery quotes every whitespace-separated term so user input is never
// parsed as FTS5 query syntax. Terms are ANDed.
func matchQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
