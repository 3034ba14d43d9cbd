package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/repository"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
	"github.com/vie-scolaire/carte-api/pkg/jobs"
	"github.com/vie-scolaire/carte-api/pkg/storage"
)

type mockExportStore struct {
	jobs    map[string]*models.ExportJob
	created int
}

func (m *mockExportStore) Create(_ context.Context, job *models.ExportJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ExportJob)
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	m.created++
	m.jobs[job.ID] = job
	return nil
}

func (m *mockExportStore) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockExportStore) Update(_ context.Context, id string, params repository.UpdateExportJobParams) error {
	job := m.jobs[id]
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockExportStore) ListQueued(_ context.Context, limit int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, job := range m.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

type mockEventSource struct {
	events []models.ForgotCardDetail
}

func (m *mockEventSource) List(_ context.Context, filter models.ForgotCardFilter) ([]models.ForgotCardDetail, int, error) {
	if filter.Page > 1 {
		return nil, len(m.events), nil
	}
	return m.events, len(m.events), nil
}

type mockNoteSource struct {
	list *models.NoteRequirementList
}

func (m *mockNoteSource) RequiringNote(_ context.Context, week, year int) (*models.NoteRequirementList, error) {
	return m.list, nil
}

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newExportService(t *testing.T, store *mockExportStore, events *mockEventSource, notes *mockNoteSource, queue *recordingQueue) *ExportService {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Hour)
	svc := NewExportService(store, events, notes, local, signer, nil, ExportServiceConfig{MaxRows: 1000}, zap.NewNop())
	svc.SetQueue(queue)
	return svc
}

func exportEvent(id string) models.ForgotCardDetail {
	className := "5B"
	return models.ForgotCardDetail{
		ForgotCard: models.ForgotCard{
			ID:         id,
			StudentID:  "student-1",
			RecordedAt: time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC),
			WeekNumber: 10,
			WeekYear:   2024,
			WeekCount:  1,
		},
		StudentFirstName: "Emma",
		StudentLastName:  "Martin",
		ClassName:        &className,
		RecordedByName:   "Marie Dupont",
	}
}

func TestExportServiceCreateEnqueues(t *testing.T) {
	store := &mockExportStore{}
	queue := &recordingQueue{}
	svc := newExportService(t, store, &mockEventSource{}, &mockNoteSource{}, queue)

	job, err := svc.Create(context.Background(), ExportRequest{Type: "forgot_cards", Format: "csv", ActorID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, job.ID, queue.jobs[0].ID)
}

func TestExportServiceCreateRejectsUnknownType(t *testing.T) {
	svc := newExportService(t, &mockExportStore{}, &mockEventSource{}, &mockNoteSource{}, &recordingQueue{})

	_, err := svc.Create(context.Background(), ExportRequest{Type: "grades", Format: "csv"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCreateEnqueueFailureMarksJobFailed(t *testing.T) {
	store := &mockExportStore{}
	queue := &recordingQueue{err: assert.AnError}
	svc := newExportService(t, store, &mockEventSource{}, &mockNoteSource{}, queue)

	_, err := svc.Create(context.Background(), ExportRequest{Type: "forgot_cards", Format: "csv"})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusFailed, store.jobs["job-1"].Status)
}

func TestExportServiceProcessAndDownloadCSV(t *testing.T) {
	store := &mockExportStore{}
	queue := &recordingQueue{}
	events := &mockEventSource{events: []models.ForgotCardDetail{exportEvent("e1"), exportEvent("e2")}}
	svc := newExportService(t, store, events, &mockNoteSource{}, queue)

	job, err := svc.Create(context.Background(), ExportRequest{Type: "forgot_cards", Format: "csv", ActorID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessJob(context.Background(), jobs.Job{ID: job.ID}))

	finished := store.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFinished, finished.Status)
	require.NotNil(t, finished.ResultURL)
	require.NotNil(t, finished.FinishedAt)

	token := (*finished.ResultURL)[strings.LastIndex(*finished.ResultURL, "/")+1:]
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Emma Martin")
	assert.Contains(t, string(content), "S10 2024")
	assert.Equal(t, models.ExportFormatCSV, download.Format)
}

func TestExportServiceProcessRequiringNotePDF(t *testing.T) {
	store := &mockExportStore{}
	queue := &recordingQueue{}
	notes := &mockNoteSource{list: &models.NoteRequirementList{
		WeekNumber: 10,
		WeekYear:   2024,
		WeekLabel:  "Semaine 10 (04/03 - 10/03/2024)",
		Count:      1,
		Students: []models.NoteRequirement{{
			StudentID:    "student-1",
			StudentName:  "Emma Martin",
			ClassName:    "5B",
			ForgotCount:  3,
			LastForgotAt: time.Date(2024, time.March, 6, 9, 0, 0, 0, time.UTC),
		}},
	}}
	svc := newExportService(t, store, &mockEventSource{}, notes, queue)

	job, err := svc.Create(context.Background(), ExportRequest{Type: "requiring_note", Format: "pdf", ActorID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessJob(context.Background(), jobs.Job{ID: job.ID}))
	assert.Equal(t, models.ExportStatusFinished, store.jobs[job.ID].Status)
}

func TestExportServiceStatusOwnership(t *testing.T) {
	store := &mockExportStore{}
	svc := newExportService(t, store, &mockEventSource{}, &mockNoteSource{}, &recordingQueue{})

	job, err := svc.Create(context.Background(), ExportRequest{Type: "forgot_cards", Format: "csv", ActorID: "user-1"})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), job.ID, "user-2", models.RoleSurveillant)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	got, err := svc.GetStatus(context.Background(), job.ID, "user-2", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestExportServiceRecoverPendingJobs(t *testing.T) {
	store := &mockExportStore{jobs: map[string]*models.ExportJob{
		"job-9": {ID: "job-9", Type: models.ExportTypeForgotCards, Status: models.ExportStatusQueued},
	}}
	queue := &recordingQueue{}
	svc := newExportService(t, store, &mockEventSource{}, &mockNoteSource{}, queue)

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "job-9", queue.jobs[0].ID)
}
