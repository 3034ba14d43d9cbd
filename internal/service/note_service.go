package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/weekly"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type noteRepository interface {
	ListWeek(ctx context.Context, week, year int) ([]models.ForgotCardDetail, error)
	ListGroup(ctx context.Context, studentID string, week, year int) ([]models.ForgotCard, error)
	SetNoteFlag(ctx context.Context, studentID string, week, year int, value bool, at *time.Time) (int, error)
}

// NoteService aggregates the per-week note requirements and flips the
// carnet flag. The note is per alert-week: marking flags every event of the
// group in one statement, so the group is never half-marked.
type NoteService struct {
	repo      noteRepository
	audit     auditWriter
	cache     *CacheService
	calendar  isoweek.Calendar
	threshold int
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewNoteService constructs the service.
func NewNoteService(
	repo noteRepository,
	audit auditWriter,
	cache *CacheService,
	calendar isoweek.Calendar,
	threshold int,
	validate *validator.Validate,
	logger *zap.Logger,
) *NoteService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = weekly.AlertThreshold
	}
	return &NoteService{
		repo:      repo,
		audit:     audit,
		cache:     cache,
		calendar:  calendar,
		threshold: threshold,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// NoteMarkRequest identifies a (student, week, year) group.
type NoteMarkRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	WeekNumber int    `json:"week_number" validate:"required"`
	WeekYear   int    `json:"year" validate:"required"`
	ActorID    string `json:"-"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// RequiringNote lists the students whose weekly count reached the threshold.
// Zero week coordinates default to the current ISO week.
func (s *NoteService) RequiringNote(ctx context.Context, week, year int) (*models.NoteRequirementList, error) {
	if week == 0 && year == 0 {
		week, year = s.calendar.Of(s.now())
	}
	if err := s.calendar.Validate(week, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid week")
	}

	details, err := s.repo.ListWeek(ctx, week, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	events := make([]models.ForgotCard, len(details))
	byStudent := make(map[string]models.ForgotCardDetail, len(details))
	for i, d := range details {
		events[i] = d.ForgotCard
		byStudent[d.StudentID] = d
	}

	requirements := weekly.RequirementsAt(events, week, year, s.threshold)
	students := make([]models.NoteRequirement, 0, len(requirements))
	for _, req := range requirements {
		detail := byStudent[req.StudentID]
		className := ""
		if detail.ClassName != nil {
			className = *detail.ClassName
		}
		students = append(students, models.NoteRequirement{
			StudentID:           req.StudentID,
			StudentName:         detail.StudentFirstName + " " + detail.StudentLastName,
			ClassName:           className,
			ForgotCount:         req.Count,
			LastForgotAt:        req.LastForgotAt,
			NoteManuallyAdded:   req.Satisfied,
			NoteManuallyAddedAt: req.SatisfiedAt,
		})
	}

	return &models.NoteRequirementList{
		WeekNumber: week,
		WeekYear:   year,
		WeekLabel:  s.calendar.Label(week, year),
		Count:      len(students),
		Students:   students,
	}, nil
}

// Mark flags the group's note as manually added. Marking an already marked
// group is a no-op, not an error.
func (s *NoteService) Mark(ctx context.Context, req NoteMarkRequest) (*models.MarkNoteResult, error) {
	group, err := s.loadGroup(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &models.MarkNoteResult{
		StudentID:  req.StudentID,
		WeekNumber: req.WeekNumber,
		WeekYear:   req.WeekYear,
	}

	for _, e := range group {
		if e.NoteManuallyAdded {
			result.Message = "Le mot est déjà marqué comme ajouté"
			return result, nil
		}
	}

	at := s.now().UTC()
	updated, err := s.repo.SetNoteFlag(ctx, req.StudentID, req.WeekNumber, req.WeekYear, true, &at)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	s.writeAudit(ctx, req, models.AuditActionNoteMark)
	s.invalidateStats(ctx)

	result.UpdatedEvents = updated
	result.Message = "Mot marqué comme ajouté dans le carnet"
	return result, nil
}

// Unmark clears the group's note flag. Unmarking a group that was never
// marked is a no-op.
func (s *NoteService) Unmark(ctx context.Context, req NoteMarkRequest) (*models.MarkNoteResult, error) {
	group, err := s.loadGroup(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &models.MarkNoteResult{
		StudentID:  req.StudentID,
		WeekNumber: req.WeekNumber,
		WeekYear:   req.WeekYear,
	}

	marked := false
	for _, e := range group {
		if e.NoteManuallyAdded {
			marked = true
			break
		}
	}
	if !marked {
		result.Message = "Le mot n'était pas marqué comme ajouté"
		return result, nil
	}

	updated, err := s.repo.SetNoteFlag(ctx, req.StudentID, req.WeekNumber, req.WeekYear, false, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	s.writeAudit(ctx, req, models.AuditActionNoteUnmark)
	s.invalidateStats(ctx)

	result.UpdatedEvents = updated
	result.Message = "Marquage du mot annulé"
	return result, nil
}

// loadGroup fetches the group and enforces the threshold precondition: a
// group below the alert threshold has no note requirement to mark.
func (s *NoteService) loadGroup(ctx context.Context, req NoteMarkRequest) ([]models.ForgotCard, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if err := s.calendar.Validate(req.WeekNumber, req.WeekYear); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid week")
	}

	group, err := s.repo.ListGroup(ctx, req.StudentID, req.WeekNumber, req.WeekYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	if len(group) < s.threshold {
		return nil, appErrors.ErrGroupNotFound
	}
	return group, nil
}

func (s *NoteService) writeAudit(ctx context.Context, req NoteMarkRequest, action string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &req.ActorID,
		Action:     action,
		Resource:   "forgot_cards",
		ResourceID: &req.StudentID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *NoteService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
