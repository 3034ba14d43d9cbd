package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/models"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type mockNoteRepo struct {
	week         []models.ForgotCardDetail
	group        []models.ForgotCard
	setCalls     int
	lastSetValue bool
	lastSetAt    *time.Time
	setErr       error
}

func (m *mockNoteRepo) ListWeek(_ context.Context, week, year int) ([]models.ForgotCardDetail, error) {
	return m.week, nil
}

func (m *mockNoteRepo) ListGroup(_ context.Context, studentID string, week, year int) ([]models.ForgotCard, error) {
	return m.group, nil
}

func (m *mockNoteRepo) SetNoteFlag(_ context.Context, studentID string, week, year int, value bool, at *time.Time) (int, error) {
	m.setCalls++
	m.lastSetValue = value
	m.lastSetAt = at
	if m.setErr != nil {
		return 0, m.setErr
	}
	return len(m.group), nil
}

func noteEvent(id, studentID string, week int, day int, flagged bool) models.ForgotCardDetail {
	className := "5B"
	e := models.ForgotCardDetail{
		ForgotCard: models.ForgotCard{
			ID:         id,
			StudentID:  studentID,
			RecordedAt: time.Date(2024, time.March, day, 9, 0, 0, 0, time.UTC),
			WeekNumber: week,
			WeekYear:   2024,
		},
		StudentFirstName: "Emma",
		StudentLastName:  "Martin",
		ClassName:        &className,
	}
	if flagged {
		e.NoteManuallyAdded = true
		at := time.Date(2024, time.March, day, 12, 0, 0, 0, time.UTC)
		e.NoteManuallyAddedAt = &at
	}
	return e
}

func newNoteService(repo *mockNoteRepo, audit *mockAuditWriter) *NoteService {
	svc := NewNoteService(repo, audit, nil, isoweek.New(time.UTC), 3, nil, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, time.March, 6, 10, 0, 0, 0, time.UTC) } // week 10
	return svc
}

func TestNoteServiceRequiringNoteDefaultsToCurrentWeek(t *testing.T) {
	repo := &mockNoteRepo{week: []models.ForgotCardDetail{
		noteEvent("e1", "student-1", 10, 4, false),
		noteEvent("e2", "student-1", 10, 5, false),
		noteEvent("e3", "student-1", 10, 6, false),
		noteEvent("e4", "student-2", 10, 6, false),
	}}
	svc := newNoteService(repo, &mockAuditWriter{})

	list, err := svc.RequiringNote(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 10, list.WeekNumber)
	assert.Equal(t, 2024, list.WeekYear)
	assert.Contains(t, list.WeekLabel, "Semaine 10")
	require.Equal(t, 1, list.Count)
	req := list.Students[0]
	assert.Equal(t, "student-1", req.StudentID)
	assert.Equal(t, "Emma Martin", req.StudentName)
	assert.Equal(t, "5B", req.ClassName)
	assert.Equal(t, 3, req.ForgotCount)
	assert.False(t, req.NoteManuallyAdded)
}

func TestNoteServiceRequiringNoteSatisfiedGroup(t *testing.T) {
	repo := &mockNoteRepo{week: []models.ForgotCardDetail{
		noteEvent("e1", "student-1", 10, 4, true),
		noteEvent("e2", "student-1", 10, 5, true),
		noteEvent("e3", "student-1", 10, 6, true),
	}}
	svc := newNoteService(repo, &mockAuditWriter{})

	list, err := svc.RequiringNote(context.Background(), 10, 2024)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.True(t, list.Students[0].NoteManuallyAdded)
	require.NotNil(t, list.Students[0].NoteManuallyAddedAt)
}

func TestNoteServiceRequiringNoteRejectsInvalidWeek(t *testing.T) {
	svc := newNoteService(&mockNoteRepo{}, &mockAuditWriter{})

	_, err := svc.RequiringNote(context.Background(), 53, 2024) // 2024 has 52 weeks
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestNoteServiceMarkFlagsWholeGroup(t *testing.T) {
	repo := &mockNoteRepo{group: []models.ForgotCard{
		noteEvent("e1", "student-1", 10, 4, false).ForgotCard,
		noteEvent("e2", "student-1", 10, 5, false).ForgotCard,
		noteEvent("e3", "student-1", 10, 6, false).ForgotCard,
	}}
	audit := &mockAuditWriter{}
	svc := newNoteService(repo, audit)

	result, err := svc.Mark(context.Background(), NoteMarkRequest{StudentID: "student-1", WeekNumber: 10, WeekYear: 2024, ActorID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.UpdatedEvents)
	assert.Equal(t, 1, repo.setCalls)
	assert.True(t, repo.lastSetValue)
	require.NotNil(t, repo.lastSetAt)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionNoteMark, audit.entries[0].Action)
}

func TestNoteServiceMarkAlreadyMarkedIsNoOp(t *testing.T) {
	repo := &mockNoteRepo{group: []models.ForgotCard{
		noteEvent("e1", "student-1", 10, 4, true).ForgotCard,
		noteEvent("e2", "student-1", 10, 5, false).ForgotCard,
		noteEvent("e3", "student-1", 10, 6, false).ForgotCard,
	}}
	svc := newNoteService(repo, &mockAuditWriter{})

	result, err := svc.Mark(context.Background(), NoteMarkRequest{StudentID: "student-1", WeekNumber: 10, WeekYear: 2024})
	require.NoError(t, err)

	assert.Equal(t, 0, result.UpdatedEvents)
	assert.Equal(t, 0, repo.setCalls)
}

func TestNoteServiceMarkBelowThreshold(t *testing.T) {
	repo := &mockNoteRepo{group: []models.ForgotCard{
		noteEvent("e1", "student-1", 10, 4, false).ForgotCard,
		noteEvent("e2", "student-1", 10, 5, false).ForgotCard,
	}}
	svc := newNoteService(repo, &mockAuditWriter{})

	_, err := svc.Mark(context.Background(), NoteMarkRequest{StudentID: "student-1", WeekNumber: 10, WeekYear: 2024})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGroupNotFound.Code, appErrors.FromError(err).Code)
}

func TestNoteServiceUnmarkClearsFlag(t *testing.T) {
	repo := &mockNoteRepo{group: []models.ForgotCard{
		noteEvent("e1", "student-1", 10, 4, true).ForgotCard,
		noteEvent("e2", "student-1", 10, 5, true).ForgotCard,
		noteEvent("e3", "student-1", 10, 6, true).ForgotCard,
	}}
	audit := &mockAuditWriter{}
	svc := newNoteService(repo, audit)

	result, err := svc.Unmark(context.Background(), NoteMarkRequest{StudentID: "student-1", WeekNumber: 10, WeekYear: 2024, ActorID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.UpdatedEvents)
	assert.False(t, repo.lastSetValue)
	assert.Nil(t, repo.lastSetAt)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionNoteUnmark, audit.entries[0].Action)
}

func TestNoteServiceUnmarkNeverMarkedIsNoOp(t *testing.T) {
	repo := &mockNoteRepo{group: []models.ForgotCard{
		noteEvent("e1", "student-1", 10, 4, false).ForgotCard,
		noteEvent("e2", "student-1", 10, 5, false).ForgotCard,
		noteEvent("e3", "student-1", 10, 6, false).ForgotCard,
	}}
	svc := newNoteService(repo, &mockAuditWriter{})

	result, err := svc.Unmark(context.Background(), NoteMarkRequest{StudentID: "student-1", WeekNumber: 10, WeekYear: 2024})
	require.NoError(t, err)
	assert.Equal(t, 0, result.UpdatedEvents)
	assert.Equal(t, 0, repo.setCalls)
}
