package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/weekly"
)

type positionGroupReader interface {
	ListGroup(ctx context.Context, studentID string, week, year int) ([]models.ForgotCard, error)
}

// PositionService computes the chronological position of each event within
// its (student, week, year) group. Positions are recomputed from the current
// rows on every read: deleting an event renumbers the survivors without
// gaps. When the group cannot be reloaded it falls back to the week count
// stored at insert time, which may be stale after deletions.
type PositionService struct {
	repo   positionGroupReader
	logger *zap.Logger
}

// NewPositionService constructs the service.
func NewPositionService(repo positionGroupReader, logger *zap.Logger) *PositionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionService{repo: repo, logger: logger}
}

// Enrich attaches positions to the given details. The returned flag is true
// when at least one position came from the stored fallback instead of a
// fresh group read.
func (s *PositionService) Enrich(ctx context.Context, details []models.ForgotCardDetail) ([]models.ForgotCardView, bool) {
	views := make([]models.ForgotCardView, len(details))
	if len(details) == 0 {
		return views, false
	}

	groups := make(map[weekly.GroupKey][]models.ForgotCard)
	approximate := false
	for _, d := range details {
		key := weekly.KeyOf(d.ForgotCard)
		if _, seen := groups[key]; seen {
			continue
		}
		events, err := s.repo.ListGroup(ctx, key.StudentID, key.Week, key.Year)
		if err != nil {
			s.logger.Warn("position group reload failed, using stored week counts",
				zap.String("student_id", key.StudentID),
				zap.Int("week", key.Week),
				zap.Int("year", key.Year),
				zap.Error(err))
			groups[key] = nil
			approximate = true
			continue
		}
		groups[key] = events
	}

	positions := make(map[string]int)
	for _, events := range groups {
		for id, pos := range weekly.Positions(events) {
			positions[id] = pos
		}
	}

	for i, d := range details {
		views[i] = models.ForgotCardView{ForgotCardDetail: d}
		if pos, ok := positions[d.ID]; ok {
			views[i].Position = pos
		} else {
			views[i].Position = d.WeekCount
			approximate = true
		}
	}
	return views, approximate
}
