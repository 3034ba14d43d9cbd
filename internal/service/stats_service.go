package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/weekly"
	appErrors "github.com/vie-scolaire/carte-api/pkg/errors"
)

type statsRepository interface {
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
	NotesSentInWeek(ctx context.Context, week, year int) (int, error)
	PendingNotes(ctx context.Context, week, year, threshold int) (int, error)
	StudentsToWatch(ctx context.Context, week, year, threshold int) (int, error)
	DistinctStudentsBetween(ctx context.Context, from, to time.Time) (int, error)
	NotesSentBetween(ctx context.Context, from, to time.Time) (int, error)
	TopStudents(ctx context.Context, from, to time.Time, limit int) ([]models.TopStudent, error)
	ByClass(ctx context.Context, from, to time.Time) ([]models.ClassCount, error)
	ByDay(ctx context.Context, from, to time.Time, location string) ([]models.DayCount, error)
}

const topStudentsLimit = 5

// StatsService aggregates dashboard and period statistics. All reads are
// derived; nothing here writes to the event table. Payloads are cached per
// day so the heavy aggregates run at most once per key per TTL.
type StatsService struct {
	repo      statsRepository
	cache     *CacheService
	calendar  isoweek.Calendar
	threshold int
	cacheTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewStatsService constructs the service.
func NewStatsService(repo statsRepository, cache *CacheService, calendar isoweek.Calendar, threshold int, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = weekly.AlertThreshold
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &StatsService{
		repo:      repo,
		cache:     cache,
		calendar:  calendar,
		threshold: threshold,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Dashboard returns the landing-page counters. The second return value is
// true when the payload came from cache.
func (s *StatsService) Dashboard(ctx context.Context) (*models.DashboardStats, bool, error) {
	now := s.now().In(s.calendar.Location())
	week, year := s.calendar.Of(now)

	key := fmt.Sprintf("stats:dashboard:%d-%02d:%s", year, week, now.Format("2006-01-02"))
	if s.cache != nil {
		var cached models.DashboardStats
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart, weekEnd, err := s.calendar.Bounds(week, year)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "week bounds")
	}

	stats := &models.DashboardStats{}
	if stats.TodayCount, err = s.repo.CountBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1)); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.WeekCount, err = s.repo.CountBetween(ctx, weekStart, weekEnd); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.NotesSentWeek, err = s.repo.NotesSentInWeek(ctx, week, year); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.PendingNotesCount, err = s.repo.PendingNotes(ctx, week, year, s.threshold); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.StudentsToWatch, err = s.repo.StudentsToWatch(ctx, week, year, s.threshold); err != nil {
		return nil, false, s.persistence(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard cache set failed", zap.Error(err))
		}
	}
	return stats, false, nil
}

// Statistics returns period aggregates for "week", "month" or "year".
func (s *StatsService) Statistics(ctx context.Context, period string) (*models.Statistics, bool, error) {
	now := s.now().In(s.calendar.Location())

	var from time.Time
	switch period {
	case "week":
		week, year := s.calendar.Of(now)
		monday, err := s.calendar.FirstDayOf(week, year)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "week bounds")
		}
		from = monday
	case "month":
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "year":
		from = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown period %q", period))
	}

	key := fmt.Sprintf("stats:period:%s:%s", period, now.Format("2006-01-02"))
	if s.cache != nil {
		var cached models.Statistics
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	stats := &models.Statistics{Period: period}
	var err error
	if stats.TotalForgotCards, err = s.repo.CountBetween(ctx, from, now); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.TotalNotesSent, err = s.repo.NotesSentBetween(ctx, from, now); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.TotalStudentsConcerned, err = s.repo.DistinctStudentsBetween(ctx, from, now); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.TopStudents, err = s.repo.TopStudents(ctx, from, now, topStudentsLimit); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.ByClass, err = s.repo.ByClass(ctx, from, now); err != nil {
		return nil, false, s.persistence(err)
	}
	if stats.ByDay, err = s.repo.ByDay(ctx, from, now, s.calendar.Location().String()); err != nil {
		return nil, false, s.persistence(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("stats cache set failed", zap.Error(err))
		}
	}
	return stats, false, nil
}

func (s *StatsService) persistence(err error) error {
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
}
