package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vie-scolaire/carte-api/internal/models"
)

// StudentRepository manages persistence for the student roster.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.external_id, s.first_name, s.last_name, s.class_id, s.active, s.created_at, s.updated_at, c.name AS class_name`
const studentJoins = `FROM students s LEFT JOIN classes c ON c.id = s.class_id`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("s.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(LOWER(s.first_name) LIKE $%d OR LOWER(s.last_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY s.last_name ASC, s.first_name ASC LIMIT %d OFFSET %d`,
		studentDetailColumns, studentJoins, whereClause, size, offset)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", studentJoins, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// Search performs the autocomplete lookup over active students.
func (r *StudentRepository) Search(ctx context.Context, query string, limit int) ([]models.StudentDetail, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	sqlQuery := fmt.Sprintf(`SELECT %s %s
        WHERE s.active = true AND (LOWER(s.first_name) LIKE $1 OR LOWER(s.last_name) LIKE $1 OR LOWER(s.first_name || ' ' || s.last_name) LIKE $1)
        ORDER BY s.last_name ASC, s.first_name ASC LIMIT %d`, studentDetailColumns, studentJoins, limit)
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, sqlQuery, pattern); err != nil {
		return nil, fmt.Errorf("search students: %w", err)
	}
	return students, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE s.id = $1", studentDetailColumns, studentJoins)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// UpsertByExternalID inserts or refreshes a roster row keyed by the
// EcoleDirecte identifier. It reports whether a new row was created.
func (r *StudentRepository) UpsertByExternalID(ctx context.Context, student *models.Student) (bool, error) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, external_id, first_name, last_name, class_id, active, created_at, updated_at)
VALUES (:id, :external_id, :first_name, :last_name, :class_id, :active, :created_at, :updated_at)
ON CONFLICT (external_id) DO UPDATE SET
        first_name = EXCLUDED.first_name,
        last_name = EXCLUDED.last_name,
        class_id = EXCLUDED.class_id,
        active = EXCLUDED.active,
        updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`
	rows, err := r.db.NamedQueryContext(ctx, query, student)
	if err != nil {
		return false, fmt.Errorf("upsert student: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	inserted := false
	if rows.Next() {
		if err := rows.Scan(&inserted); err != nil {
			return false, fmt.Errorf("scan upsert result: %w", err)
		}
	}
	return inserted, nil
}

// DeactivateMissing marks students absent from the latest roster as inactive
// and returns how many rows changed.
func (r *StudentRepository) DeactivateMissing(ctx context.Context, keepExternalIDs []string) (int, error) {
	const query = `UPDATE students SET active = false, updated_at = $2
        WHERE active = true AND NOT (external_id = ANY($1))`
	res, err := r.db.ExecContext(ctx, query, pq.Array(keepExternalIDs), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate missing students: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate missing rows: %w", err)
	}
	return int(affected), nil
}

// Exists reports whether the student id is known.
func (r *StudentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	if err := r.db.GetContext(ctx, &one, "SELECT 1 FROM students WHERE id = $1 LIMIT 1", id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student: %w", err)
	}
	return true, nil
}
