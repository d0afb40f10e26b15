// Package index keeps a SQLite search cache of every image prompt.
//
// The JSON document stays the only source of truth. The index is rebuilt from
// it wholesale after every change, so it can be deleted at any time and holds
// nothing that cannot be recomputed.
//
// Architecture:
//   - Database file: <data dir>/index.db (embedded SQLite, WAL)
//   - Schema: one images table keyed by (project_id, image_id)
//   - Search: every whitespace-separated term must appear in the prompt or
//     the filename, case-insensitively
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// DefaultLimit caps search results when the caller passes no limit.
const DefaultLimit = 50

// Hit is one search result.
type Hit struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	ImageID     string    `json:"imageId"`
	Filename    string    `json:"filename"`
	Prompt      string    `json:"prompt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Index wraps the SQLite connection.
type Index struct {
	conn *sql.DB
	path string
}

// Open creates or opens the index database at path. ":memory:" gives a
// private in-memory index.
//
// The caller MUST call Close() when done.
func Open(path string) (*Index, error) {
	connStr := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ix := &Index{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := ix.conn.Exec(p); err != nil {
			_ = ix.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return ix, nil
}

// Path returns the database path.
func (ix *Index) Path() string {
	return ix.path
}

// Close closes the database connection.
func (ix *Index) Close() error {
	if ix.conn == nil {
		return nil
	}
	if err := ix.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	ix.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (ix *Index) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS images (
		project_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		image_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, image_id)
	);

	CREATE INDEX IF NOT EXISTS idx_images_project ON images(project_id);
	CREATE INDEX IF NOT EXISTS idx_images_updated ON images(updated_at);
	`

	if _, err := ix.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Rebuild replaces the index contents with projects in one transaction.
func (ix *Index) Rebuild(ctx context.Context, projects []schema.Project) error {
	tx, err := ix.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM images"); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO images (project_id, project_name, image_id, filename, prompt, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id, image_id) DO UPDATE SET
		filename = excluded.filename,
		prompt = excluded.prompt,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range projects {
		for _, img := range p.Images {
			_, err := stmt.ExecContext(ctx,
				p.ID,
				p.Name,
				img.ID,
				img.Filename,
				img.Prompt,
				img.UpdatedAt.UTC().Format(time.RFC3339Nano),
			)
			if err != nil {
				return fmt.Errorf("failed to index image %s/%s: %w", p.ID, img.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search returns images whose prompt or filename contains every term of
// query, most recently updated first. An empty projectID searches all
// projects; limit <= 0 means DefaultLimit.
func (ix *Index) Search(ctx context.Context, query, projectID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		where []string
		args  []any
	)
	for _, term := range strings.Fields(query) {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, `(prompt LIKE ? ESCAPE '\' OR filename LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if projectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, projectID)
	}

	q := `SELECT project_id, project_name, image_id, filename, prompt, updated_at FROM images`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC, project_id, image_id LIMIT ?"
	args = append(args, limit)

	rows, err := ix.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h       Hit
			updated string
		)
		if err := rows.Scan(&h.ProjectID, &h.ProjectName, &h.ImageID, &h.Filename, &h.Prompt, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hits: %w", err)
	}
	return hits, nil
}

// Count returns the number of indexed images.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var count int
	if err := ix.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return count, nil
}

// escapeLike escapes LIKE wildcards so terms match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
