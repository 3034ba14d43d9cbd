package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vie-scolaire/carte-api/internal/models"
)

// ClassRepository manages persistence for class groups.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// List returns all classes ordered by name.
func (r *ClassRepository) List(ctx context.Context, activeOnly bool) ([]models.Class, error) {
	query := `SELECT id, external_id, name, level, active, created_at, updated_at FROM classes`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// UpsertByExternalID inserts or refreshes a class keyed by the EcoleDirecte
// identifier and returns the stored row id.
func (r *ClassRepository) UpsertByExternalID(ctx context.Context, class *models.Class) (string, error) {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now

	const query = `INSERT INTO classes (id, external_id, name, level, active, created_at, updated_at)
VALUES (:id, :external_id, :name, :level, :active, :created_at, :updated_at)
ON CONFLICT (external_id) DO UPDATE SET
        name = EXCLUDED.name,
        level = EXCLUDED.level,
        active = EXCLUDED.active,
        updated_at = EXCLUDED.updated_at
RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, class)
	if err != nil {
		return "", fmt.Errorf("upsert class: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	if rows.Next() {
		if err := rows.Scan(&class.ID); err != nil {
			return "", fmt.Errorf("scan upsert class: %w", err)
		}
	}
	return class.ID, nil
}
