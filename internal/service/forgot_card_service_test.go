package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/models"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type mockForgotRepo struct {
	cards        []models.ForgotCardDetail
	total        int
	detail       *models.ForgotCardDetail
	group        []models.ForgotCard
	count        int
	createCalls  int
	deleteCalls  int
	deletedID    string
	listFilter   models.ForgotCardFilter
	createErr    error
	deleteErr    error
	findErr      error
	createdCards []*models.ForgotCard
}

func (m *mockForgotRepo) List(_ context.Context, filter models.ForgotCardFilter) ([]models.ForgotCardDetail, int, error) {
	m.listFilter = filter
	return m.cards, m.total, nil
}

func (m *mockForgotRepo) FindByID(_ context.Context, id string) (*models.ForgotCardDetail, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.detail == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail, nil
}

func (m *mockForgotRepo) ListGroup(_ context.Context, studentID string, week, year int) ([]models.ForgotCard, error) {
	return m.group, nil
}

func (m *mockForgotRepo) CountInWeek(_ context.Context, studentID string, week, year int) (int, error) {
	return m.count, nil
}

func (m *mockForgotRepo) CreateCounted(_ context.Context, card *models.ForgotCard) (int, error) {
	m.createCalls++
	if m.createErr != nil {
		return 0, m.createErr
	}
	card.ID = "card-new"
	card.WeekCount = m.count + 1
	m.createdCards = append(m.createdCards, card)
	return card.WeekCount, nil
}

func (m *mockForgotRepo) Delete(_ context.Context, id string) error {
	m.deleteCalls++
	m.deletedID = id
	return m.deleteErr
}

type mockStudentReader struct {
	student *models.StudentDetail
	err     error
}

func (m *mockStudentReader) FindByID(_ context.Context, id string) (*models.StudentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.student == nil {
		return nil, sql.ErrNoRows
	}
	return m.student, nil
}

type mockAuditWriter struct {
	entries []*models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.entries = append(m.entries, log)
	return nil
}

type stubPositions struct {
	approximate bool
}

func (s *stubPositions) Enrich(_ context.Context, details []models.ForgotCardDetail) ([]models.ForgotCardView, bool) {
	views := make([]models.ForgotCardView, len(details))
	for i, d := range details {
		views[i] = models.ForgotCardView{ForgotCardDetail: d, Position: d.WeekCount}
	}
	return views, s.approximate
}

func activeStudent() *models.StudentDetail {
	className := "5B"
	classID := "class-1"
	return &models.StudentDetail{
		Student: models.Student{
			ID:        "student-1",
			FirstName: "Emma",
			LastName:  "Martin",
			ClassID:   &classID,
			Active:    true,
		},
		ClassName: &className,
	}
}

func newForgotService(repo *mockForgotRepo, students *mockStudentReader, audit *mockAuditWriter) *ForgotCardService {
	svc := NewForgotCardService(repo, students, &stubPositions{}, audit, nil, isoweek.New(time.UTC), 3, nil, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, time.March, 6, 10, 0, 0, 0, time.UTC) } // Wednesday, week 10
	return svc
}

func TestForgotCardServiceRecordAssignsCurrentWeek(t *testing.T) {
	repo := &mockForgotRepo{count: 0}
	audit := &mockAuditWriter{}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, audit)

	result, err := svc.Record(context.Background(), RecordRequest{StudentID: "student-1", RecordedBy: "user-1"})
	require.NoError(t, err)

	require.Len(t, repo.createdCards, 1)
	card := repo.createdCards[0]
	assert.Equal(t, 10, card.WeekNumber)
	assert.Equal(t, 2024, card.WeekYear)
	assert.Equal(t, 1, result.WeekCount)
	assert.False(t, result.AlertTriggered)
	assert.Contains(t, result.Message, "Emma Martin")
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionForgotCreate, audit.entries[0].Action)
}

func TestForgotCardServiceRecordThirdTriggersAlert(t *testing.T) {
	repo := &mockForgotRepo{count: 2}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	result, err := svc.Record(context.Background(), RecordRequest{StudentID: "student-1", RecordedBy: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.WeekCount)
	assert.True(t, result.AlertTriggered)
	assert.Contains(t, result.Message, "carnet")
}

func TestForgotCardServiceRecordPastThresholdStillAlerts(t *testing.T) {
	repo := &mockForgotRepo{count: 4}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	result, err := svc.Record(context.Background(), RecordRequest{StudentID: "student-1", RecordedBy: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, 5, result.WeekCount)
	assert.True(t, result.AlertTriggered)
}

func TestForgotCardServiceRecordUnknownStudent(t *testing.T) {
	svc := newForgotService(&mockForgotRepo{}, &mockStudentReader{}, &mockAuditWriter{})

	_, err := svc.Record(context.Background(), RecordRequest{StudentID: "missing", RecordedBy: "user-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestForgotCardServiceRecordInactiveStudent(t *testing.T) {
	student := activeStudent()
	student.Active = false
	svc := newForgotService(&mockForgotRepo{}, &mockStudentReader{student: student}, &mockAuditWriter{})

	_, err := svc.Record(context.Background(), RecordRequest{StudentID: "student-1", RecordedBy: "user-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestForgotCardServiceRecordPersistenceFailure(t *testing.T) {
	repo := &mockForgotRepo{createErr: assert.AnError}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	_, err := svc.Record(context.Background(), RecordRequest{StudentID: "student-1", RecordedBy: "user-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPersistence.Code, appErrors.FromError(err).Code)
}

func TestForgotCardServiceWeekCount(t *testing.T) {
	repo := &mockForgotRepo{count: 3}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	result, err := svc.WeekCount(context.Background(), "student-1")
	require.NoError(t, err)

	assert.Equal(t, 10, result.WeekNumber)
	assert.Equal(t, 2024, result.WeekYear)
	assert.Equal(t, 3, result.WeekCount)
	assert.True(t, result.ShouldSendNote)
	assert.Equal(t, "Emma Martin", result.StudentName)
}

func TestForgotCardServiceWeekCountBelowThreshold(t *testing.T) {
	repo := &mockForgotRepo{count: 2}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	result, err := svc.WeekCount(context.Background(), "student-1")
	require.NoError(t, err)
	assert.False(t, result.ShouldSendNote)
}

func TestForgotCardServiceListPeriodWeekBounds(t *testing.T) {
	repo := &mockForgotRepo{}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	_, err := svc.List(context.Background(), ListRequest{Period: "week"})
	require.NoError(t, err)

	require.NotNil(t, repo.listFilter.StartDate)
	// Monday of week 10, 2024.
	assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC), repo.listFilter.StartDate.UTC())
}

func TestForgotCardServiceListUnknownPeriod(t *testing.T) {
	svc := newForgotService(&mockForgotRepo{}, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	_, err := svc.List(context.Background(), ListRequest{Period: "semester"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestForgotCardServiceDeleteNotFound(t *testing.T) {
	repo := &mockForgotRepo{deleteErr: sql.ErrNoRows}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, &mockAuditWriter{})

	err := svc.Delete(context.Background(), "missing", "user-1", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestForgotCardServiceDeleteAudits(t *testing.T) {
	repo := &mockForgotRepo{}
	audit := &mockAuditWriter{}
	svc := newForgotService(repo, &mockStudentReader{student: activeStudent()}, audit)

	require.NoError(t, svc.Delete(context.Background(), "card-1", "user-1", "10.0.0.1", "ua"))
	assert.Equal(t, "card-1", repo.deletedID)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionForgotDelete, audit.entries[0].Action)
}
