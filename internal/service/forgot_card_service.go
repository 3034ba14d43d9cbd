package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/weekly"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type forgotCardRepository interface {
	List(ctx context.Context, filter models.ForgotCardFilter) ([]models.ForgotCardDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ForgotCardDetail, error)
	CountInWeek(ctx context.Context, studentID string, week, year int) (int, error)
	CreateCounted(ctx context.Context, card *models.ForgotCard) (int, error)
	Delete(ctx context.Context, id string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type positionEnricher interface {
	Enrich(ctx context.Context, details []models.ForgotCardDetail) ([]models.ForgotCardView, bool)
}

// ForgotCardService orchestrates forgotten-card events: week assignment,
// the serialized counted insert, the alert rule and listings.
type ForgotCardService struct {
	repo      forgotCardRepository
	students  studentReader
	positions positionEnricher
	audit     auditWriter
	cache     *CacheService
	calendar  isoweek.Calendar
	threshold int
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewForgotCardService constructs the service.
func NewForgotCardService(
	repo forgotCardRepository,
	students studentReader,
	positions positionEnricher,
	audit auditWriter,
	cache *CacheService,
	calendar isoweek.Calendar,
	threshold int,
	validate *validator.Validate,
	logger *zap.Logger,
) *ForgotCardService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = weekly.AlertThreshold
	}
	return &ForgotCardService{
		repo:      repo,
		students:  students,
		positions: positions,
		audit:     audit,
		cache:     cache,
		calendar:  calendar,
		threshold: threshold,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest describes a new forgotten-card event.
type RecordRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	RecordedBy string `json:"-"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// ListRequest describes listing criteria.
type ListRequest struct {
	StudentID         string
	ClassID           string
	Period            string
	StartDate         *time.Time
	EndDate           *time.Time
	NoteManuallyAdded *bool
	Page              int
	PageSize          int
}

// ForgotCardList is a positioned page of events.
type ForgotCardList struct {
	Events      []models.ForgotCardView `json:"events"`
	Pagination  models.Pagination       `json:"pagination"`
	Approximate bool                    `json:"positions_approximate"`
}

// Record stores a new event for the current instant. The week is derived
// once, in the reference location, and persisted with the event; the weekly
// count comes back from the serialized insert so concurrent records for the
// same student never observe the same prior count.
func (s *ForgotCardService) Record(ctx context.Context, req RecordRequest) (*models.RecordResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}

	now := s.now().UTC()
	week, year := s.calendar.Of(now)

	card := &models.ForgotCard{
		StudentID:  req.StudentID,
		RecordedBy: req.RecordedBy,
		RecordedAt: now,
	}
	card.WeekNumber, card.WeekYear = week, year

	newCount, err := s.repo.CreateCounted(ctx, card)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	result := weekly.IncrementAt(newCount-1, s.threshold)

	detail := &models.ForgotCardDetail{
		ForgotCard:       *card,
		StudentFirstName: student.FirstName,
		StudentLastName:  student.LastName,
		ClassName:        student.ClassName,
	}
	if loaded, err := s.repo.FindByID(ctx, card.ID); err == nil {
		detail = loaded
	}

	message := fmt.Sprintf("Oubli enregistré pour %s (%d/%d cette semaine)", student.FullName(), result.NewCount, s.threshold)
	if result.AlertTriggered {
		message = fmt.Sprintf("%s a oublié sa carte %d fois cette semaine : un mot doit être ajouté dans le carnet", student.FullName(), result.NewCount)
	}

	s.writeAudit(ctx, req.RecordedBy, models.AuditActionForgotCreate, card.ID, req.IP, req.UserAgent)
	s.invalidateStats(ctx)

	s.logger.Info("forgot card recorded",
		zap.String("student_id", req.StudentID),
		zap.Int("week", week),
		zap.Int("year", year),
		zap.Int("week_count", result.NewCount),
		zap.Bool("alert", result.AlertTriggered))

	return &models.RecordResult{
		Event:          *detail,
		WeekCount:      result.NewCount,
		AlertTriggered: result.AlertTriggered,
		Message:        message,
	}, nil
}

// List returns a page of events enriched with group positions.
func (s *ForgotCardService) List(ctx context.Context, req ListRequest) (*ForgotCardList, error) {
	filter := models.ForgotCardFilter{
		StudentID:         req.StudentID,
		ClassID:           req.ClassID,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		NoteManuallyAdded: req.NoteManuallyAdded,
		Page:              req.Page,
		PageSize:          req.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if req.Period != "" {
		start, end, err := s.periodBounds(models.ForgotCardPeriod(req.Period))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period")
		}
		filter.StartDate, filter.EndDate = &start, &end
	}

	details, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	views, approximate := s.positions.Enrich(ctx, details)
	return &ForgotCardList{
		Events:      views,
		Pagination:  models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total},
		Approximate: approximate,
	}, nil
}

// Get returns one event with its position.
func (s *ForgotCardService) Get(ctx context.Context, id string) (*models.ForgotCardView, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "forgot card not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	views, _ := s.positions.Enrich(ctx, []models.ForgotCardDetail{*detail})
	return &views[0], nil
}

// WeekCount returns the student's counter for the current ISO week.
func (s *ForgotCardService) WeekCount(ctx context.Context, studentID string) (*models.WeeklyCount, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	week, year := s.calendar.Of(s.now())
	count, err := s.repo.CountInWeek(ctx, studentID, week, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}

	return &models.WeeklyCount{
		StudentID:      studentID,
		StudentName:    student.FullName(),
		WeekNumber:     week,
		WeekYear:       year,
		WeekCount:      count,
		ShouldSendNote: count >= s.threshold,
	}, nil
}

// Delete removes an event. Positions of the surviving group members are
// recomputed on the next read; stored week counts are left untouched.
func (s *ForgotCardService) Delete(ctx context.Context, id, actorID, ip, userAgent string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "forgot card not found")
		}
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
	s.writeAudit(ctx, actorID, models.AuditActionForgotDelete, id, ip, userAgent)
	s.invalidateStats(ctx)
	return nil
}

func (s *ForgotCardService) periodBounds(period models.ForgotCardPeriod) (time.Time, time.Time, error) {
	now := s.now().In(s.calendar.Location())
	end := now
	var start time.Time
	switch period {
	case models.PeriodToday:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case models.PeriodWeek:
		week, year := s.calendar.Of(now)
		monday, err := s.calendar.FirstDayOf(week, year)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = monday
	case models.PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case models.PeriodYear:
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", period)
	}
	return start, end, nil
}

func (s *ForgotCardService) writeAudit(ctx context.Context, userID, action, resourceID, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "forgot_cards",
		ResourceID: &resourceID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *ForgotCardService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
