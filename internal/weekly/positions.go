package weekly

import (
	"sort"

	"github.com/vie-scolaire/carte-api/internal/models"
)

// GroupKey identifies the set of events sharing a student and ISO week.
type GroupKey struct {
	StudentID string
	Week      int
	Year      int
}

// KeyOf returns the group key of an event.
func KeyOf(e models.ForgotCard) GroupKey {
	return GroupKey{StudentID: e.StudentID, Week: e.WeekNumber, Year: e.WeekYear}
}

// Positions assigns each event its 1-based chronological rank within its
// (student, week, year) group. The sort key is (recorded_at, id), so the
// result is stable under input permutation and appending a later event never
// changes ranks already assigned to earlier events.
func Positions(events []models.ForgotCard) map[string]int {
	groups := make(map[GroupKey][]models.ForgotCard)
	for _, e := range events {
		key := KeyOf(e)
		groups[key] = append(groups[key], e)
	}

	positions := make(map[string]int, len(events))
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].RecordedAt.Equal(group[j].RecordedAt) {
				return group[i].RecordedAt.Before(group[j].RecordedAt)
			}
			return group[i].ID < group[j].ID
		})
		for i, e := range group {
			positions[e.ID] = i + 1
		}
	}
	return positions
}
