package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// contextRef is the search ref and kind used for story-context documents.
const contextRef = "context"

// ContextRow represents a row in the contexts table.
type ContextRow struct {
	StoryID   string
	Path      string
	Checksum  string
	Body      string
	UpdatedAt time.Time
}

// UpsertContext inserts or replaces the indexed copy of a story-context document.
func (db *DB) UpsertContext(c ContextRow) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO contexts (story_id, path, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(story_id) DO UPDATE SET
			path       = excluded.path,
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, c.StoryID, c.Path, c.Checksum, c.Body, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert context: %w", err)
	}
	if err := ftsUpsertContext(tx, c.StoryID, c.Body); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteContext removes the indexed context document of a story.
func (db *DB) DeleteContext(storyID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM contexts WHERE story_id = ?`, storyID); err != nil {
		return fmt.Errorf("index: delete context: %w", err)
	}
	if err := ftsDeleteContext(tx, storyID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetContextChecksum returns the stored checksum, or "" if not indexed.
func (db *DB) GetContextChecksum(storyID string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM contexts WHERE story_id = ?`, storyID).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return cs, err
}

// AllContextChecksums returns story_id→checksum for every indexed context document.
func (db *DB) AllContextChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT story_id, checksum FROM contexts`)
	if err != nil {
		return nil, fmt.Errorf("index: all context checksums: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		m[id] = cs
	}
	return m, rows.Err()
}
