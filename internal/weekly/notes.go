package weekly

import (
	"sort"
	"time"

	"github.com/vie-scolaire/carte-api/internal/models"
)

// Requirement describes a (student, week, year) group whose count reached the
// alert threshold. The note is conceptually per alert-week, not per event:
// one flagged event satisfies the whole group, and the earliest flag
// timestamp wins.
type Requirement struct {
	StudentID    string
	Count        int
	LastForgotAt time.Time
	Satisfied    bool
	SatisfiedAt  *time.Time
}

// Requirements filters the events down to the given ISO week and returns one
// entry per student group whose count meets the threshold. Groups below the
// threshold are never returned. Output is ordered by count descending, then
// student id, for deterministic rendering.
func Requirements(events []models.ForgotCard, week, year int) []Requirement {
	return RequirementsAt(events, week, year, AlertThreshold)
}

// RequirementsAt is Requirements with a custom threshold. Non-positive
// thresholds fall back to AlertThreshold.
func RequirementsAt(events []models.ForgotCard, week, year, threshold int) []Requirement {
	if threshold <= 0 {
		threshold = AlertThreshold
	}
	byStudent := make(map[string][]models.ForgotCard)
	for _, e := range events {
		if e.WeekNumber != week || e.WeekYear != year {
			continue
		}
		byStudent[e.StudentID] = append(byStudent[e.StudentID], e)
	}

	var out []Requirement
	for studentID, group := range byStudent {
		if len(group) < threshold {
			continue
		}
		req := Requirement{StudentID: studentID, Count: len(group)}
		for _, e := range group {
			if e.RecordedAt.After(req.LastForgotAt) {
				req.LastForgotAt = e.RecordedAt
			}
			if e.NoteManuallyAdded {
				req.Satisfied = true
				if e.NoteManuallyAddedAt != nil &&
					(req.SatisfiedAt == nil || e.NoteManuallyAddedAt.Before(*req.SatisfiedAt)) {
					at := *e.NoteManuallyAddedAt
					req.SatisfiedAt = &at
				}
			}
		}
		out = append(out, req)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}
