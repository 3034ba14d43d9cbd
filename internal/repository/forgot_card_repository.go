package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vie-scolaire/carte-api/internal/models"
)

const forgotCardColumns = `fc.id, fc.student_id, fc.recorded_by, fc.recorded_at, fc.week_number, fc.week_year, fc.week_count,
        fc.note_manually_added, fc.note_manually_added_at, fc.created_at`

const forgotCardDetailColumns = forgotCardColumns + `,
        s.first_name AS student_first_name, s.last_name AS student_last_name, c.name AS class_name,
        u.first_name || ' ' || u.last_name AS recorded_by_name`

const forgotCardJoins = `FROM forgot_cards fc
        JOIN students s ON s.id = fc.student_id
        LEFT JOIN classes c ON c.id = s.class_id
        JOIN users u ON u.id = fc.recorded_by`

// ForgotCardRepository manages persistence for forgotten-card events.
type ForgotCardRepository struct {
	db *sqlx.DB
}

// NewForgotCardRepository constructs a new repository.
func NewForgotCardRepository(db *sqlx.DB) *ForgotCardRepository {
	return &ForgotCardRepository{db: db}
}

// List returns event details per provided filter with a total count.
func (r *ForgotCardRepository) List(ctx context.Context, filter models.ForgotCardFilter) ([]models.ForgotCardDetail, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("fc.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("s.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.StartDate != nil {
		where = append(where, fmt.Sprintf("fc.recorded_at >= $%d", len(args)+1))
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		where = append(where, fmt.Sprintf("fc.recorded_at < $%d", len(args)+1))
		args = append(args, *filter.EndDate)
	}
	if filter.NoteManuallyAdded != nil {
		where = append(where, fmt.Sprintf("fc.note_manually_added = $%d", len(args)+1))
		args = append(args, *filter.NoteManuallyAdded)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s WHERE %s ORDER BY fc.recorded_at DESC, fc.id DESC LIMIT %d OFFSET %d`,
		forgotCardDetailColumns, forgotCardJoins, whereClause, size, offset)
	var cards []models.ForgotCardDetail
	if err := r.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list forgot cards: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", forgotCardJoins, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count forgot cards: %w", err)
	}
	return cards, total, nil
}

// FindByID fetches one event with its student and recorder context.
func (r *ForgotCardRepository) FindByID(ctx context.Context, id string) (*models.ForgotCardDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE fc.id = $1", forgotCardDetailColumns, forgotCardJoins)
	var detail models.ForgotCardDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListGroup returns every event of one (student, week, year) group ordered
// chronologically with id as tie-break.
func (r *ForgotCardRepository) ListGroup(ctx context.Context, studentID string, week, year int) ([]models.ForgotCard, error) {
	const query = `SELECT id, student_id, recorded_by, recorded_at, week_number, week_year, week_count,
        note_manually_added, note_manually_added_at, created_at
        FROM forgot_cards
        WHERE student_id = $1 AND week_number = $2 AND week_year = $3
        ORDER BY recorded_at ASC, id ASC`
	var events []models.ForgotCard
	if err := r.db.SelectContext(ctx, &events, query, studentID, week, year); err != nil {
		return nil, fmt.Errorf("list forgot-card group: %w", err)
	}
	return events, nil
}

// ListWeek returns every event of the given ISO week with joined context.
func (r *ForgotCardRepository) ListWeek(ctx context.Context, week, year int) ([]models.ForgotCardDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE fc.week_number = $1 AND fc.week_year = $2
        ORDER BY fc.recorded_at ASC, fc.id ASC`, forgotCardDetailColumns, forgotCardJoins)
	var cards []models.ForgotCardDetail
	if err := r.db.SelectContext(ctx, &cards, query, week, year); err != nil {
		return nil, fmt.Errorf("list week events: %w", err)
	}
	return cards, nil
}

// CountInWeek counts the events of one group.
func (r *ForgotCardRepository) CountInWeek(ctx context.Context, studentID string, week, year int) (int, error) {
	const query = `SELECT COUNT(*) FROM forgot_cards WHERE student_id = $1 AND week_number = $2 AND week_year = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, week, year); err != nil {
		return 0, fmt.Errorf("count week events: %w", err)
	}
	return count, nil
}

// CreateCounted inserts the event and returns the resulting weekly count.
// Count-then-append for one group is serialized by a Postgres advisory
// transaction lock keyed on (student, week, year): two concurrent records for
// the same student in the same week cannot both observe the same prior count.
// Callers hold no locks of their own.
func (r *ForgotCardRepository) CreateCounted(ctx context.Context, card *models.ForgotCard) (int, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin counted insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockKey := fmt.Sprintf("forgot_cards:%s:%d:%d", card.StudentID, card.WeekNumber, card.WeekYear)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return 0, fmt.Errorf("acquire group lock: %w", err)
	}

	var existing int
	const countQuery = `SELECT COUNT(*) FROM forgot_cards WHERE student_id = $1 AND week_number = $2 AND week_year = $3`
	if err := tx.GetContext(ctx, &existing, countQuery, card.StudentID, card.WeekNumber, card.WeekYear); err != nil {
		return 0, fmt.Errorf("count existing events: %w", err)
	}
	card.WeekCount = existing + 1

	const insertQuery = `INSERT INTO forgot_cards (id, student_id, recorded_by, recorded_at, week_number, week_year, week_count, note_manually_added, note_manually_added_at, created_at)
VALUES (:id, :student_id, :recorded_by, :recorded_at, :week_number, :week_year, :week_count, :note_manually_added, :note_manually_added_at, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, card); err != nil {
		return 0, fmt.Errorf("insert forgot card: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counted insert: %w", err)
	}
	return card.WeekCount, nil
}

// SetNoteFlag updates the note flag on every event of the group at once.
// The note is per alert-week, never per event id.
func (r *ForgotCardRepository) SetNoteFlag(ctx context.Context, studentID string, week, year int, value bool, at *time.Time) (int, error) {
	const query = `UPDATE forgot_cards SET note_manually_added = $4, note_manually_added_at = $5
        WHERE student_id = $1 AND week_number = $2 AND week_year = $3`
	res, err := r.db.ExecContext(ctx, query, studentID, week, year, value, at)
	if err != nil {
		return 0, fmt.Errorf("set note flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set note flag rows: %w", err)
	}
	return int(affected), nil
}

// Delete removes an event. Administrative action, outside the counting
// contract; stored week counts of later events are left as-is and the exact
// position path recomputes ranks from the surviving rows.
func (r *ForgotCardRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM forgot_cards WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete forgot card: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete forgot card rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
