package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Template is a recorded reference sequence for one sign label.
type Template struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Frames    [][]float64 `json:"frames"`
	CreatedAt time.Time   `json:"created_at"`
}

// TemplateRepository provides CRUD operations for templates.
type TemplateRepository struct {
	db *sql.DB
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{db: s.db}
}

// Create inserts a new template. An empty ID is replaced with a new UUID.
func (r *TemplateRepository) Create(ctx context.Context, t *Template) error {
	if t.Label == "" {
		return fmt.Errorf("template label is required")
	}
	if len(t.Frames) == 0 {
		return fmt.Errorf("template has no frames")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()

	frames, err := json.Marshal(t.Frames)
	if err != nil {
		return fmt.Errorf("encoding frames: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO templates (id, label, frames, frame_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Label, string(frames), len(t.Frames), t.CreatedAt,
	)
	return err
}

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	t := &Template{}
	var frames string
	if err := row.Scan(&t.ID, &t.Label, &frames, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(frames), &t.Frames); err != nil {
		return nil, fmt.Errorf("decoding frames of template %s: %w", t.ID, err)
	}
	return t, nil
}

// GetByID retrieves a template by its ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*Template, error) {
	return scanTemplate(r.db.QueryRowContext(ctx,
		`SELECT id, label, frames, created_at FROM templates WHERE id = ?`, id))
}

// List retrieves all templates ordered by label, then creation time.
func (r *TemplateRepository) List(ctx context.Context) ([]*Template, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, frames, created_at FROM templates ORDER BY label, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return templates, nil
}

// Delete removes a template by its ID.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// CountByLabel returns the number of templates per label.
func (r *TemplateRepository) CountByLabel(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM templates GROUP BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}
