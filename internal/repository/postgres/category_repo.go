package postgres

import (
	"context"

	"github.com/and161185/listing-scout/internal/model"
)

// CategoryRepo implements CategoryRepository using PostgreSQL.
type CategoryRepo struct{ db *DB }

// NewCategoryRepo constructs a category repository.
func NewCategoryRepo(db *DB) *CategoryRepo { return &CategoryRepo{db: db} }

// Any reports whether any category rows exist.
func (r *CategoryRepo) Any(ctx context.Context) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM categories)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Upsert creates or updates one category.
func (r *CategoryRepo) Upsert(ctx context.Context, c *model.Category) error {
	const q = `
INSERT INTO categories (id, parent_id, name, code, type, view_type, position)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id)
DO UPDATE SET parent_id=EXCLUDED.parent_id, name=EXCLUDED.name, code=EXCLUDED.code,
              type=EXCLUDED.type, view_type=EXCLUDED.view_type, position=EXCLUDED.position, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.ParentID, c.Name, c.Code, c.Type, c.ViewType, c.Position)
	return err
}

// Path returns the chain from root to the given category, root first.
func (r *CategoryRepo) Path(ctx context.Context, id int32) ([]model.Category, error) {
	const q = `
WITH RECURSIVE path AS (
  SELECT id, parent_id, name, code, type, view_type, position, 0 AS depth
  FROM categories WHERE id=$1
  UNION ALL
  SELECT c.id, c.parent_id, c.name, c.code, c.type, c.view_type, c.position, p.depth + 1
  FROM categories c JOIN path p ON c.id = p.parent_id
)
SELECT id, parent_id, name, code, type, view_type, position FROM path ORDER BY depth DESC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.Code, &c.Type, &c.ViewType, &c.Position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
