package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/ecoledirecte"
	"github.com/vie-scolaire/carte-api/internal/models"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	Search(ctx context.Context, query string, limit int) ([]models.StudentDetail, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	UpsertByExternalID(ctx context.Context, student *models.Student) (bool, error)
	DeactivateMissing(ctx context.Context, keepExternalIDs []string) (int, error)
}

type classRepository interface {
	List(ctx context.Context, activeOnly bool) ([]models.Class, error)
	UpsertByExternalID(ctx context.Context, class *models.Class) (string, error)
}

type rosterProvider interface {
	FetchRoster(ctx context.Context) ([]ecoledirecte.RosterClass, []ecoledirecte.RosterStudent, error)
}

const searchLimit = 10

// StudentService exposes the read-only student directory and the roster
// synchronisation. Students and classes are owned by EcoleDirecte; the only
// local mutation is mirroring the roster.
type StudentService struct {
	repo    studentRepository
	classes classRepository
	roster  rosterProvider
	audit   auditWriter
	logger  *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(repo studentRepository, classes classRepository, roster rosterProvider, audit auditWriter, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, classes: classes, roster: roster, audit: audit, logger: logger}
}

// List returns students per filter with pagination.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return students, pagination, nil
}

// Search powers the record-form autocomplete. Only active students match.
func (s *StudentService) Search(ctx context.Context, query string) ([]models.StudentSearchResult, error) {
	if len(query) < 2 {
		return []models.StudentSearchResult{}, nil
	}
	students, err := s.repo.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	results := make([]models.StudentSearchResult, len(students))
	for i, st := range students {
		className := ""
		if st.ClassName != nil {
			className = *st.ClassName
		}
		label := st.FullName()
		if className != "" {
			label = fmt.Sprintf("%s (%s)", label, className)
		}
		results[i] = models.StudentSearchResult{
			Value:     st.ID,
			Label:     label,
			FirstName: st.FirstName,
			LastName:  st.LastName,
			ClassName: className,
		}
	}
	return results, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	return student, nil
}

// Classes returns the class directory.
func (s *StudentService) Classes(ctx context.Context, activeOnly bool) ([]models.Class, error) {
	classes, err := s.classes.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	return classes, nil
}

// Sync mirrors the EcoleDirecte roster: classes first, then students, then
// deactivation of anyone who left. Students are never deleted; their event
// history must survive roster churn.
func (s *StudentService) Sync(ctx context.Context, actorID, ip, userAgent string) (*models.SyncResult, error) {
	rosterClasses, rosterStudents, err := s.roster.FetchRoster(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, appErrors.ErrSyncUnavailable.Message)
	}

	classIDs := make(map[string]string, len(rosterClasses))
	for _, rc := range rosterClasses {
		class := &models.Class{
			ExternalID: rc.ID,
			Name:       rc.Name,
			Level:      rc.Level,
			Active:     true,
		}
		id, err := s.classes.UpsertByExternalID(ctx, class)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
		}
		classIDs[rc.ID] = id
	}

	result := &models.SyncResult{}
	keep := make([]string, 0, len(rosterStudents))
	for _, rs := range rosterStudents {
		student := &models.Student{
			ExternalID: rs.ID,
			FirstName:  rs.FirstName,
			LastName:   rs.LastName,
			Active:     true,
		}
		if classID, ok := classIDs[rs.ClassID]; ok {
			student.ClassID = &classID
		}
		inserted, err := s.repo.UpsertByExternalID(ctx, student)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
		}
		if inserted {
			result.Added++
		} else {
			result.Updated++
		}
		keep = append(keep, rs.ID)
	}

	if result.Deactivated, err = s.repo.DeactivateMissing(ctx, keep); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	result.Message = fmt.Sprintf("Synchronisation terminée : %d ajoutés, %d mis à jour, %d désactivés",
		result.Added, result.Updated, result.Deactivated)

	if s.audit != nil {
		entry := &models.AuditLog{
			UserID:    &actorID,
			Action:    models.AuditActionStudentSync,
			Resource:  "students",
			IPAddress: ip,
			UserAgent: userAgent,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("audit write failed", zap.String("action", models.AuditActionStudentSync), zap.Error(err))
		}
	}

	s.logger.Info("roster sync finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("deactivated", result.Deactivated))
	return result, nil
}
