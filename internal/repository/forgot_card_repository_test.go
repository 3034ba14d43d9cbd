package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/vie-scolaire/carte-api/internal/models"
)

func newForgotCardRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func forgotCardRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "recorded_by", "recorded_at", "week_number", "week_year", "week_count",
		"note_manually_added", "note_manually_added_at", "created_at",
		"student_first_name", "student_last_name", "class_name", "recorded_by_name",
	})
}

func TestForgotCardRepositoryCreateCounted(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("forgot_cards:student-1:10:2024").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forgot_cards WHERE student_id = $1")).
		WithArgs("student-1", 10, 2024).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forgot_cards")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	card := &models.ForgotCard{
		StudentID:  "student-1",
		RecordedBy: "user-1",
		RecordedAt: time.Date(2024, 3, 6, 12, 30, 0, 0, time.UTC),
		WeekNumber: 10,
		WeekYear:   2024,
	}
	count, err := repo.CreateCounted(context.Background(), card)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, 3, card.WeekCount)
	require.NotEmpty(t, card.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForgotCardRepositoryCreateCountedRollsBackOnInsertError(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forgot_cards")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forgot_cards")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.CreateCounted(context.Background(), &models.ForgotCard{
		StudentID:  "student-1",
		RecordedBy: "user-1",
		RecordedAt: time.Now().UTC(),
		WeekNumber: 10,
		WeekYear:   2024,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForgotCardRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)
	recorded := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)

	rows := forgotCardRows().
		AddRow("card-1", "student-1", "user-1", recorded, 10, 2024, 1,
			false, nil, recorded, "Emma", "Martin", "5B", "M. Dupont")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT fc.id, fc.student_id")).
		WithArgs("student-1", false).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM forgot_cards fc")).
		WithArgs("student-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	noNote := false
	list, total, err := repo.List(context.Background(), models.ForgotCardFilter{
		StudentID:         "student-1",
		NoteManuallyAdded: &noNote,
		Page:              1,
		PageSize:          20,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "card-1", list[0].ID)
	require.Equal(t, "Emma", list[0].StudentFirstName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForgotCardRepositoryListGroupOrder(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "student_id", "recorded_by", "recorded_at", "week_number", "week_year", "week_count",
		"note_manually_added", "note_manually_added_at", "created_at",
	}).
		AddRow("card-1", "student-1", "user-1", base, 10, 2024, 1, false, nil, base).
		AddRow("card-2", "student-1", "user-1", base.Add(24*time.Hour), 10, 2024, 2, false, nil, base)
	mock.ExpectQuery("ORDER BY recorded_at ASC, id ASC").
		WithArgs("student-1", 10, 2024).
		WillReturnRows(rows)

	group, err := repo.ListGroup(context.Background(), "student-1", 10, 2024)
	require.NoError(t, err)
	require.Len(t, group, 2)
	require.Equal(t, "card-1", group[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForgotCardRepositorySetNoteFlag(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE forgot_cards SET note_manually_added = $4")).
		WithArgs("student-1", 10, 2024, true, &now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.SetNoteFlag(context.Background(), "student-1", 10, 2024, true, &now)
	require.NoError(t, err)
	require.Equal(t, 3, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForgotCardRepositoryDeleteNotFound(t *testing.T) {
	db, mock, cleanup := newForgotCardRepoMock(t)
	defer cleanup()

	repo := NewForgotCardRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM forgot_cards WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
