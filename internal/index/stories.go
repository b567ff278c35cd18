package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/storyloom/internal/apperr"
	"github.com/starford/storyloom/internal/mention"
	"github.com/starford/storyloom/internal/models"
)

// StoryRow represents a row in the stories table.
type StoryRow struct {
	ID            string
	Title         string
	HeadVersionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VersionRow is one immutable graph version.
type VersionRow struct {
	ID        string
	StoryID   string
	ParentID  string
	PatchID   string
	Patch     []byte
	Graph     []byte
	Checksum  string
	CreatedAt time.Time
}

// VersionMeta is a VersionRow without its payloads.
type VersionMeta struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	PatchID   string    `json:"patch_id,omitempty"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeRow is the searchable projection of a head node.
type NodeRow struct {
	ID    string
	Type  string
	Label string
	Body  string
}

// MentionRow is one head MENTIONS edge.
type MentionRow struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// HeadRows are the derived rows replaced whenever a story's head moves.
type HeadRows struct {
	Nodes    []NodeRow
	Mentions []MentionRow
}

// SearchResult represents one search hit. Ref is a node id, or "context" for
// the story-context document.
type SearchResult struct {
	StoryID string `json:"story_id"`
	Ref     string `json:"ref"`
	Kind    string `json:"kind"`
	Label   string `json:"label"`
	Snippet string `json:"snippet"`
}

// HeadRowsFromGraph projects g into the rows stored for the head version.
func HeadRowsFromGraph(g *models.GraphState) HeadRows {
	var h HeadRows
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		h.Nodes = append(h.Nodes, NodeRow{
			ID:    id,
			Type:  string(n.NodeType()),
			Label: models.Label(n),
			Body:  models.Text(n),
		})
	}
	for _, e := range g.EdgesOfType(models.EdgeMentions) {
		field, _ := e.Properties[mention.PropField].(string)
		conf, _ := e.Properties[mention.PropConfidence].(float64)
		h.Mentions = append(h.Mentions, MentionRow{Source: e.From, Target: e.To, Field: field, Confidence: conf})
	}
	return h
}

// CreateStory inserts a story together with its first version.
func (db *DB) CreateStory(s StoryRow, v VersionRow, head HeadRows) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO stories (id, title, head_version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Title, v.ID, s.CreatedAt, s.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return apperr.ErrAlreadyExists
		}
		return fmt.Errorf("index: insert story: %w", err)
	}
	if err := insertVersion(tx, v); err != nil {
		return err
	}
	if err := replaceHead(tx, s.ID, head); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStory returns the story row, or apperr.ErrNotFound.
func (db *DB) GetStory(id string) (*StoryRow, error) {
	var s StoryRow
	err := db.conn.QueryRow(`
		SELECT id, title, head_version_id, created_at, updated_at FROM stories WHERE id = ?
	`, id).Scan(&s.ID, &s.Title, &s.HeadVersionID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get story: %w", err)
	}
	return &s, nil
}

// ListStories returns all stories, most recently updated first.
func (db *DB) ListStories() ([]StoryRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, head_version_id, created_at, updated_at
		FROM stories ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("index: list stories: %w", err)
	}
	defer rows.Close()

	var out []StoryRow
	for rows.Next() {
		var s StoryRow
		if err := rows.Scan(&s.ID, &s.Title, &s.HeadVersionID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommitVersion stores v and moves the story head to it, provided the head
// is still expectedHead. A moved head yields apperr.ErrConflict.
func (db *DB) CommitVersion(storyID, expectedHead string, v VersionRow, head HeadRows) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`
		UPDATE stories SET head_version_id = ?, updated_at = ?
		WHERE id = ? AND head_version_id = ?
	`, v.ID, v.CreatedAt, storyID, expectedHead)
	if err != nil {
		return fmt.Errorf("index: move head: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := db.GetStory(storyID); err != nil {
			return err
		}
		return apperr.ErrConflict
	}
	if err := insertVersion(tx, v); err != nil {
		return err
	}
	if err := replaceHead(tx, storyID, head); err != nil {
		return err
	}
	return tx.Commit()
}

// GetVersion returns one version of a story, or apperr.ErrNotFound.
func (db *DB) GetVersion(storyID, versionID string) (*VersionRow, error) {
	var v VersionRow
	var patch, graph string
	err := db.conn.QueryRow(`
		SELECT id, story_id, parent_id, patch_id, patch, graph, checksum, created_at
		FROM versions WHERE story_id = ? AND id = ?
	`, storyID, versionID).Scan(&v.ID, &v.StoryID, &v.ParentID, &v.PatchID, &patch, &graph, &v.Checksum, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get version: %w", err)
	}
	v.Patch = []byte(patch)
	v.Graph = []byte(graph)
	return &v, nil
}

// ListVersions returns version metadata of a story, newest first.
func (db *DB) ListVersions(storyID string) ([]VersionMeta, error) {
	rows, err := db.conn.Query(`
		SELECT id, parent_id, patch_id, checksum, created_at
		FROM versions WHERE story_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("index: list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionMeta
	for rows.Next() {
		var m VersionMeta
		if err := rows.Scan(&m.ID, &m.ParentID, &m.PatchID, &m.Checksum, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MentionedBy returns the head MENTIONS rows pointing at target.
func (db *DB) MentionedBy(storyID, target string) ([]MentionRow, error) {
	rows, err := db.conn.Query(`
		SELECT source, target, field, confidence FROM mentions
		WHERE story_id = ? AND target = ?
		ORDER BY source, field
	`, storyID, target)
	if err != nil {
		return nil, fmt.Errorf("index: mentioned by: %w", err)
	}
	defer rows.Close()

	var out []MentionRow
	for rows.Next() {
		var m MentionRow
		if err := rows.Scan(&m.Source, &m.Target, &m.Field, &m.Confidence); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertVersion(tx *sql.Tx, v VersionRow) error {
	_, err := tx.Exec(`
		INSERT INTO versions (id, story_id, parent_id, patch_id, patch, graph, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.StoryID, v.ParentID, v.PatchID, string(v.Patch), string(v.Graph), v.Checksum, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: insert version: %w", err)
	}
	return nil
}

// replaceHead swaps the node and mention rows of a story: delete old then bulk insert.
func replaceHead(tx *sql.Tx, storyID string, head HeadRows) error {
	if err := ftsDeleteNodes(tx, storyID); err != nil {
		return err
	}
	for _, table := range []string{"nodes", "mentions"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("index: clear head %s: %w", table, err)
		}
	}

	if len(head.Nodes) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO nodes (story_id, node_id, type, label, body) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare node insert: %w", err)
		}
		defer stmt.Close()
		for _, n := range head.Nodes {
			if _, err := stmt.Exec(storyID, n.ID, n.Type, n.Label, n.Body); err != nil {
				return fmt.Errorf("index: insert node: %w", err)
			}
			if err := ftsInsert(tx, storyID, n.ID, n.Type, n.Label, n.Body); err != nil {
				return err
			}
		}
	}

	if len(head.Mentions) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO mentions (story_id, source, target, field, confidence) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare mention insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range head.Mentions {
			if _, err := stmt.Exec(storyID, m.Source, m.Target, m.Field, m.Confidence); err != nil {
				return fmt.Errorf("index: insert mention: %w", err)
			}
		}
	}
	return nil
}

// likePattern escapes LIKE wildcards in q.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
