// Package selstore provides persistent storage for saved gene selections using SQLite.
package selstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/atlasmap-sc/spotview/internal/selection"
)

// ErrNotFound is returned when no saved selection has the requested id.
var ErrNotFound = errors.New("saved selection not found")

// Saved is a named snapshot of the per-gene summaries of a selection.
type Saved struct {
	ID        string              `json:"id"`
	DatasetID string              `json:"dataset_id"`
	Name      string              `json:"name"`
	Comment   string              `json:"comment,omitempty"`
	View      json.RawMessage     `json:"view,omitempty"`
	Genes     []selection.Summary `json:"genes"`
	TotalHits int                 `json:"total_hits"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store provides persistent storage for saved selections using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based selection store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS selections (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		name TEXT NOT NULL,
		comment TEXT DEFAULT '',
		view_json TEXT DEFAULT '',
		total_hits INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_selections_dataset ON selections(dataset_id);

	CREATE TABLE IF NOT EXISTS selection_genes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		selection_id TEXT NOT NULL,
		gene TEXT NOT NULL,
		count INTEGER NOT NULL,
		hits INTEGER NOT NULL,
		normalized_reads REAL NOT NULL DEFAULT 0,
		pixel_intensity INTEGER NOT NULL,
		FOREIGN KEY (selection_id) REFERENCES selections(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_selection_genes_selection ON selection_genes(selection_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores a selection and its gene rows in one transaction. ID and CreatedAt are assigned
// when empty; TotalHits is always recomputed from the genes.
func (s *Store) Save(sel *Saved) error {
	if strings.TrimSpace(sel.Name) == "" {
		return errors.New("selection name is required")
	}
	sel.TotalHits = selection.TotalHits(sel.Genes)
	if sel.ID == "" {
		sel.ID = uuid.NewString()
	}
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO selections (id, dataset_id, name, comment, view_json, total_hits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sel.ID,
		sel.DatasetID,
		sel.Name,
		sel.Comment,
		string(sel.View),
		sel.TotalHits,
		sel.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert selection: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO selection_genes (selection_id, gene, count, hits, normalized_reads, pixel_intensity)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range sel.Genes {
		if _, err := stmt.Exec(sel.ID, g.Name, g.Count, g.Hits, g.NormalizedReads, g.PixelIntensity); err != nil {
			return fmt.Errorf("failed to insert gene %s: %w", g.Name, err)
		}
	}

	return tx.Commit()
}

// Get retrieves a selection with its genes.
func (s *Store) Get(id string) (*Saved, error) {
	row := s.db.QueryRow(`
		SELECT id, dataset_id, name, comment, view_json, total_hits, created_at
		FROM selections WHERE id = ?
	`, id)

	sel, err := scanSelection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT gene, count, hits, normalized_reads, pixel_intensity
		FROM selection_genes WHERE selection_id = ?
		ORDER BY gene ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sel.Genes = []selection.Summary{}
	for rows.Next() {
		var g selection.Summary
		if err := rows.Scan(&g.Name, &g.Count, &g.Hits, &g.NormalizedReads, &g.PixelIntensity); err != nil {
			return nil, err
		}
		sel.Genes = append(sel.Genes, g)
	}
	return sel, rows.Err()
}

// ListByDataset returns the selections of a dataset, newest first, without their genes.
func (s *Store) ListByDataset(datasetID string) ([]*Saved, error) {
	rows, err := s.db.Query(`
		SELECT id, dataset_id, name, comment, view_json, total_hits, created_at
		FROM selections WHERE dataset_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Saved
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// Delete removes a selection and its genes.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM selection_genes WHERE selection_id = ?", id); err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM selections WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSelection(row scanner) (*Saved, error) {
	var sel Saved
	var viewJSON, createdAtStr string
	err := row.Scan(
		&sel.ID,
		&sel.DatasetID,
		&sel.Name,
		&sel.Comment,
		&viewJSON,
		&sel.TotalHits,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}
	if viewJSON != "" {
		sel.View = json.RawMessage(viewJSON)
	}
	sel.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return &sel, nil
}
