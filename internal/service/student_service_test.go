package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/ecoledirecte"
	"github.com/vie-scolaire/carte-api/internal/models"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type mockStudentRepo struct {
	students    []models.StudentDetail
	upserted    []*models.Student
	inserted    map[string]bool
	deactivated int
	keepIDs     []string
}

func (m *mockStudentRepo) List(_ context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	return m.students, len(m.students), nil
}

func (m *mockStudentRepo) Search(_ context.Context, query string, limit int) ([]models.StudentDetail, error) {
	return m.students, nil
}

func (m *mockStudentRepo) FindByID(_ context.Context, id string) (*models.StudentDetail, error) {
	for i := range m.students {
		if m.students[i].ID == id {
			return &m.students[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) UpsertByExternalID(_ context.Context, student *models.Student) (bool, error) {
	m.upserted = append(m.upserted, student)
	return m.inserted[student.ExternalID], nil
}

func (m *mockStudentRepo) DeactivateMissing(_ context.Context, keepExternalIDs []string) (int, error) {
	m.keepIDs = keepExternalIDs
	return m.deactivated, nil
}

type mockClassRepo struct {
	ids map[string]string
}

func (m *mockClassRepo) List(_ context.Context, activeOnly bool) ([]models.Class, error) {
	return nil, nil
}

func (m *mockClassRepo) UpsertByExternalID(_ context.Context, class *models.Class) (string, error) {
	return m.ids[class.ExternalID], nil
}

type mockRoster struct {
	classes  []ecoledirecte.RosterClass
	students []ecoledirecte.RosterStudent
	err      error
}

func (m *mockRoster) FetchRoster(_ context.Context) ([]ecoledirecte.RosterClass, []ecoledirecte.RosterStudent, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.classes, m.students, nil
}

func TestStudentServiceSearchShortQuery(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, &mockClassRepo{}, &mockRoster{}, nil, zap.NewNop())

	results, err := svc.Search(context.Background(), "e")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStudentServiceSearchLabels(t *testing.T) {
	className := "5B"
	repo := &mockStudentRepo{students: []models.StudentDetail{
		{Student: models.Student{ID: "student-1", FirstName: "Emma", LastName: "Martin", Active: true}, ClassName: &className},
		{Student: models.Student{ID: "student-2", FirstName: "Emile", LastName: "Durand", Active: true}},
	}}
	svc := NewStudentService(repo, &mockClassRepo{}, &mockRoster{}, nil, zap.NewNop())

	results, err := svc.Search(context.Background(), "em")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "student-1", results[0].Value)
	assert.Equal(t, "Emma Martin (5B)", results[0].Label)
	assert.Equal(t, "Emile Durand", results[1].Label)
}

func TestStudentServiceSyncCounts(t *testing.T) {
	repo := &mockStudentRepo{
		inserted:    map[string]bool{"ed-2": true},
		deactivated: 1,
	}
	classes := &mockClassRepo{ids: map[string]string{"cls-1": "class-uuid-1"}}
	roster := &mockRoster{
		classes: []ecoledirecte.RosterClass{{ID: "cls-1", Name: "5B", Level: "5e"}},
		students: []ecoledirecte.RosterStudent{
			{ID: "ed-1", FirstName: "Emma", LastName: "Martin", ClassID: "cls-1"},
			{ID: "ed-2", FirstName: "Paul", LastName: "Petit", ClassID: "cls-unknown"},
		},
	}
	audit := &mockAuditWriter{}
	svc := NewStudentService(repo, classes, roster, audit, zap.NewNop())

	result, err := svc.Sync(context.Background(), "user-1", "10.0.0.1", "ua")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, []string{"ed-1", "ed-2"}, repo.keepIDs)

	require.Len(t, repo.upserted, 2)
	require.NotNil(t, repo.upserted[0].ClassID)
	assert.Equal(t, "class-uuid-1", *repo.upserted[0].ClassID)
	assert.Nil(t, repo.upserted[1].ClassID)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionStudentSync, audit.entries[0].Action)
}

func TestStudentServiceSyncRosterDown(t *testing.T) {
	roster := &mockRoster{err: assert.AnError}
	svc := NewStudentService(&mockStudentRepo{}, &mockClassRepo{}, roster, nil, zap.NewNop())

	_, err := svc.Sync(context.Background(), "user-1", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSyncUnavailable.Code, appErrors.FromError(err).Code)
}

func TestStudentServiceGetNotFound(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, &mockClassRepo{}, &mockRoster{}, nil, zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
