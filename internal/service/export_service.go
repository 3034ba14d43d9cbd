package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/repository"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
	"github.com/vie-scolaire/carte-api/pkg/export"
	"github.com/vie-scolaire/carte-api/pkg/jobs"
	"github.com/vie-scolaire/carte-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
}

type exportEventSource interface {
	List(ctx context.Context, filter models.ForgotCardFilter) ([]models.ForgotCardDetail, int, error)
}

type exportNoteSource interface {
	RequiringNote(ctx context.Context, week, year int) (*models.NoteRequirementList, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

const exportPageSize = 200

// ExportService runs asynchronous CSV/PDF exports: a job row is persisted,
// processing happens on the in-memory queue, and the finished file is served
// through a signed download token.
type ExportService struct {
	repo     exportJobStore
	events   exportEventSource
	notes    exportNoteSource
	queue    jobDispatcher
	storage  *storage.LocalStorage
	signer   *storage.SignedURLSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	audit    auditWriter
	maxRows  int
	basePath string
	logger   *zap.Logger
}

// ExportServiceConfig carries limits and the public download path prefix.
type ExportServiceConfig struct {
	MaxRows  int
	BasePath string
}

// NewExportService constructs the service.
func NewExportService(
	repo exportJobStore,
	events exportEventSource,
	notes exportNoteSource,
	store *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	audit auditWriter,
	cfg ExportServiceConfig,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/api/v1/exports/download"
	}
	return &ExportService{
		repo:     repo,
		events:   events,
		notes:    notes,
		storage:  store,
		signer:   signer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		audit:    audit,
		maxRows:  cfg.MaxRows,
		basePath: cfg.BasePath,
		logger:   logger,
	}
}

// SetQueue wires the dispatcher after construction; the queue handler needs
// the service and the service needs the queue.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// ExportRequest describes a new export.
type ExportRequest struct {
	Type       string     `json:"type"`
	Format     string     `json:"format"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	ClassID    *string    `json:"class_id,omitempty"`
	WeekNumber *int       `json:"week_number,omitempty"`
	WeekYear   *int       `json:"year,omitempty"`
	ActorID    string     `json:"-"`
	IP         string     `json:"-"`
	UserAgent  string     `json:"-"`
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// Create validates the request, persists the job and enqueues processing.
func (s *ExportService) Create(ctx context.Context, req ExportRequest) (*models.ExportJob, error) {
	jobType := models.ExportType(req.Type)
	switch jobType {
	case models.ExportTypeForgotCards, models.ExportTypeRequiringNote:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export type")
	}
	format := models.ExportFormat(req.Format)
	switch format {
	case models.ExportFormatCSV, models.ExportFormatPDF:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	job := &models.ExportJob{
		Type: jobType,
		Params: models.ExportJobParams{
			Format:     format,
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
			ClassID:    req.ClassID,
			WeekNumber: req.WeekNumber,
			WeekYear:   req.WeekYear,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: req.ActorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &req.ActorID,
			Action:     models.AuditActionExportCreate,
			Resource:   "export_jobs",
			ResourceID: &job.ID,
			IPAddress:  req.IP,
			UserAgent:  req.UserAgent,
		}); err != nil {
			s.logger.Warn("audit write failed", zap.String("action", models.AuditActionExportCreate), zap.Error(err))
		}
	}
	return job, nil
}

// GetStatus exposes job metadata; non-admins only see their own jobs.
func (s *ExportService) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	if role != models.RoleAdmin && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// ResolveDownload validates the token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// ProcessJob is the queue handler: build the dataset, render, store, sign.
func (s *ExportService) ProcessJob(ctx context.Context, queued jobs.Job) error {
	job, err := s.repo.GetByID(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", queued.ID, err)
	}
	if job.Status == models.ExportStatusFinished {
		return nil
	}

	processing := models.ExportStatusProcessing
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}

	if err := s.renderAndStore(ctx, job); err != nil {
		status := models.ExportStatusFailed
		msg := err.Error()
		now := time.Now().UTC()
		if updErr := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updErr != nil {
			s.logger.Error("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(updErr))
		}
		return err
	}
	return nil
}

// RecoverPendingJobs replays queued jobs after a process restart.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (s *ExportService) renderAndStore(ctx context.Context, job *models.ExportJob) error {
	var (
		dataset export.Dataset
		title   string
		err     error
	)
	switch job.Type {
	case models.ExportTypeForgotCards:
		dataset, err = s.forgotCardsDataset(ctx, job.Params)
		title = "Oublis de carte"
	case models.ExportTypeRequiringNote:
		dataset, err = s.requiringNoteDataset(ctx, job.Params)
		title = "Mots à ajouter dans le carnet"
	default:
		err = fmt.Errorf("unknown export type %q", job.Type)
	}
	if err != nil {
		return err
	}

	var payload []byte
	ext := "csv"
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		ext = "pdf"
	default:
		err = fmt.Errorf("unknown export format %q", job.Params.Format)
	}
	if err != nil {
		return fmt.Errorf("render export: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.%s", job.Type, time.Now().UTC().Format("20060102_150405"), ext)
	relPath := filepath.Join(job.ID, filename)
	if _, err := s.storage.Save(relPath, payload); err != nil {
		return fmt.Errorf("store export file: %w", err)
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return fmt.Errorf("sign export url: %w", err)
	}
	resultURL := s.basePath + "/" + token

	finished := models.ExportStatusFinished
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		ResultURL:  &resultURL,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}

	s.logger.Info("export finished",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("format", string(job.Params.Format)),
		zap.Int("rows", len(dataset.Rows)))
	return nil
}

func (s *ExportService) forgotCardsDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, error) {
	headers := []string{"Date", "Élève", "Classe", "Semaine", "Rang", "Mot ajouté", "Enregistré par"}
	dataset := export.Dataset{Headers: headers}

	filter := models.ForgotCardFilter{
		StartDate: params.StartDate,
		EndDate:   params.EndDate,
		Page:      1,
		PageSize:  exportPageSize,
	}
	if params.ClassID != nil {
		filter.ClassID = *params.ClassID
	}

	for len(dataset.Rows) < s.maxRows {
		page, _, err := s.events.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, fmt.Errorf("load export events: %w", err)
		}
		for _, d := range page {
			className := ""
			if d.ClassName != nil {
				className = *d.ClassName
			}
			noteAdded := "non"
			if d.NoteManuallyAdded {
				noteAdded = "oui"
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Date":           d.RecordedAt.Format("02/01/2006 15:04"),
				"Élève":          d.StudentFirstName + " " + d.StudentLastName,
				"Classe":         className,
				"Semaine":        fmt.Sprintf("S%d %d", d.WeekNumber, d.WeekYear),
				"Rang":           fmt.Sprintf("%d", d.WeekCount),
				"Mot ajouté":     noteAdded,
				"Enregistré par": d.RecordedByName,
			})
		}
		if len(page) < filter.PageSize {
			break
		}
		filter.Page++
	}
	return dataset, nil
}

func (s *ExportService) requiringNoteDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, error) {
	week, year := 0, 0
	if params.WeekNumber != nil {
		week = *params.WeekNumber
	}
	if params.WeekYear != nil {
		year = *params.WeekYear
	}
	list, err := s.notes.RequiringNote(ctx, week, year)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load note requirements: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"Élève", "Classe", "Oublis", "Dernier oubli", "Mot ajouté", "Semaine"},
	}
	for _, st := range list.Students {
		noteAdded := "non"
		if st.NoteManuallyAdded {
			noteAdded = "oui"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Élève":         st.StudentName,
			"Classe":        st.ClassName,
			"Oublis":        fmt.Sprintf("%d", st.ForgotCount),
			"Dernier oubli": st.LastForgotAt.Format("02/01/2006 15:04"),
			"Mot ajouté":    noteAdded,
			"Semaine":       list.WeekLabel,
		})
	}
	return dataset, nil
}
