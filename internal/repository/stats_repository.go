package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vie-scolaire/carte-api/internal/models"
)

// StatsRepository aggregates forgot-card metrics for the dashboard and the
// period statistics views.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository constructs the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// CountBetween counts events recorded inside [from, to).
func (r *StatsRepository) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM forgot_cards WHERE recorded_at >= $1 AND recorded_at < $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, from, to); err != nil {
		return 0, fmt.Errorf("count events between: %w", err)
	}
	return count, nil
}

// NotesSentInWeek counts groups of the given week whose note was handled.
func (r *StatsRepository) NotesSentInWeek(ctx context.Context, week, year int) (int, error) {
	const query = `SELECT COUNT(DISTINCT student_id) FROM forgot_cards
        WHERE week_number = $1 AND week_year = $2 AND note_manually_added = true`
	var count int
	if err := r.db.GetContext(ctx, &count, query, week, year); err != nil {
		return 0, fmt.Errorf("count notes sent: %w", err)
	}
	return count, nil
}

// PendingNotes counts groups of the week that reached the threshold without a
// handled note.
func (r *StatsRepository) PendingNotes(ctx context.Context, week, year, threshold int) (int, error) {
	const query = `SELECT COUNT(*) FROM (
        SELECT student_id FROM forgot_cards
        WHERE week_number = $1 AND week_year = $2
        GROUP BY student_id
        HAVING COUNT(*) >= $3 AND bool_or(note_manually_added) = false
    ) pending`
	var count int
	if err := r.db.GetContext(ctx, &count, query, week, year, threshold); err != nil {
		return 0, fmt.Errorf("count pending notes: %w", err)
	}
	return count, nil
}

// StudentsToWatch counts groups one event away from the alert threshold.
func (r *StatsRepository) StudentsToWatch(ctx context.Context, week, year, threshold int) (int, error) {
	const query = `SELECT COUNT(*) FROM (
        SELECT student_id FROM forgot_cards
        WHERE week_number = $1 AND week_year = $2
        GROUP BY student_id
        HAVING COUNT(*) = $3
    ) watched`
	var count int
	if err := r.db.GetContext(ctx, &count, query, week, year, threshold-1); err != nil {
		return 0, fmt.Errorf("count students to watch: %w", err)
	}
	return count, nil
}

// DistinctStudentsBetween counts students with at least one event in the window.
func (r *StatsRepository) DistinctStudentsBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(DISTINCT student_id) FROM forgot_cards WHERE recorded_at >= $1 AND recorded_at < $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, from, to); err != nil {
		return 0, fmt.Errorf("count distinct students: %w", err)
	}
	return count, nil
}

// NotesSentBetween counts groups satisfied inside the window.
func (r *StatsRepository) NotesSentBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM (
        SELECT student_id, week_number, week_year FROM forgot_cards
        WHERE recorded_at >= $1 AND recorded_at < $2 AND note_manually_added = true
        GROUP BY student_id, week_number, week_year
    ) sent`
	var count int
	if err := r.db.GetContext(ctx, &count, query, from, to); err != nil {
		return 0, fmt.Errorf("count notes sent between: %w", err)
	}
	return count, nil
}

// TopStudents returns the podium for the window ordered by event count.
func (r *StatsRepository) TopStudents(ctx context.Context, from, to time.Time, limit int) ([]models.TopStudent, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`SELECT fc.student_id,
        s.first_name || ' ' || s.last_name AS student_name,
        COALESCE(c.name, '') AS class_name,
        COUNT(*) AS forgot_count,
        COUNT(DISTINCT CASE WHEN fc.note_manually_added THEN fc.week_number || '-' || fc.week_year END) AS notes_sent
        FROM forgot_cards fc
        JOIN students s ON s.id = fc.student_id
        LEFT JOIN classes c ON c.id = s.class_id
        WHERE fc.recorded_at >= $1 AND fc.recorded_at < $2
        GROUP BY fc.student_id, s.first_name, s.last_name, c.name
        ORDER BY forgot_count DESC, student_name ASC
        LIMIT %d`, limit)
	var top []models.TopStudent
	if err := r.db.SelectContext(ctx, &top, query, from, to); err != nil {
		return nil, fmt.Errorf("top students: %w", err)
	}
	return top, nil
}

// ByClass aggregates events per class for the window.
func (r *StatsRepository) ByClass(ctx context.Context, from, to time.Time) ([]models.ClassCount, error) {
	const query = `SELECT COALESCE(c.name, 'Sans classe') AS class_name, COUNT(*) AS count
        FROM forgot_cards fc
        JOIN students s ON s.id = fc.student_id
        LEFT JOIN classes c ON c.id = s.class_id
        WHERE fc.recorded_at >= $1 AND fc.recorded_at < $2
        GROUP BY c.name
        ORDER BY count DESC, class_name ASC`
	var counts []models.ClassCount
	if err := r.db.SelectContext(ctx, &counts, query, from, to); err != nil {
		return nil, fmt.Errorf("by class: %w", err)
	}
	return counts, nil
}

// ByDay aggregates events per calendar day for the window, in the reference
// timezone so a day matches what staff see on screen.
func (r *StatsRepository) ByDay(ctx context.Context, from, to time.Time, location string) ([]models.DayCount, error) {
	const query = `SELECT to_char(recorded_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day, COUNT(*) AS count
        FROM forgot_cards
        WHERE recorded_at >= $1 AND recorded_at < $2
        GROUP BY day
        ORDER BY day ASC`
	var counts []models.DayCount
	if err := r.db.SelectContext(ctx, &counts, query, from, to, location); err != nil {
		return nil, fmt.Errorf("by day: %w", err)
	}
	return counts, nil
}
