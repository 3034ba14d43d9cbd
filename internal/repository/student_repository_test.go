package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/vie-scolaire/carte-api/internal/models"
)

func newStudentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "external_id", "first_name", "last_name", "class_id", "active",
		"created_at", "updated_at", "class_name",
	})
}

func TestStudentRepositorySearchLowercasesPattern(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)
	now := time.Now().UTC()
	classID := "cls-5b"
	className := "5B"

	rows := studentRows().
		AddRow("student-1", "ed-1", "Emma", "Martin", &classID, true, now, now, &className)
	mock.ExpectQuery(regexp.QuoteMeta("LOWER(s.first_name || ' ' || s.last_name) LIKE $1")).
		WithArgs("%emma%").
		WillReturnRows(rows)

	found, err := repo.Search(context.Background(), "  Emma ", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Emma", found[0].FirstName)
	require.NotNil(t, found[0].ClassName)
	require.Equal(t, "5B", *found[0].ClassName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActiveFilter(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)
	now := time.Now().UTC()

	rows := studentRows().
		AddRow("student-1", "ed-1", "Emma", "Martin", nil, true, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.last_name ASC, s.first_name ASC")).
		WithArgs(true).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students s")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active := true
	list, total, err := repo.List(context.Background(), models.StudentFilter{Active: &active})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpsertReportsInsert(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (external_id) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	student := &models.Student{
		ExternalID: "ed-1",
		FirstName:  "Emma",
		LastName:   "Martin",
		Active:     true,
	}
	inserted, err := repo.UpsertByExternalID(context.Background(), student)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotEmpty(t, student.ID)
	require.False(t, student.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDeactivateMissing(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET active = false")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := repo.DeactivateMissing(context.Background(), []string{"ed-1", "ed-2"})
	require.NoError(t, err)
	require.Equal(t, 2, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExists(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	ok, err := repo.Exists(context.Background(), "student-1")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	ok, err = repo.Exists(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
