// Package weekly holds the pure counting rules for forgotten-card events:
// per-week counters, the third-forgot alert rule, chronological position
// assignment and note-requirement aggregation. Everything here is
// side-effect-free and operates on an immutable snapshot of events supplied
// by the caller; serialization of concurrent writes is delegated to the
// persistence layer.
package weekly

import "github.com/vie-scolaire/carte-api/internal/models"

// AlertThreshold is the number of forgotten cards within one ISO week that
// triggers the "note required" state.
const AlertThreshold = 3

// CountResult is the outcome of incrementing a student's weekly counter.
type CountResult struct {
	NewCount       int
	AlertTriggered bool
}

// CountForStudent counts the events matching the student and ISO week
// coordinates.
func CountForStudent(events []models.ForgotCard, studentID string, week, year int) int {
	count := 0
	for _, e := range events {
		if e.StudentID == studentID && e.WeekNumber == week && e.WeekYear == year {
			count++
		}
	}
	return count
}

// Increment applies the alert rule to a new event given the existing weekly
// count. The alert stays raised past the threshold, not only exactly at it.
func Increment(existing int) CountResult {
	return IncrementAt(existing, AlertThreshold)
}

// IncrementAt applies the alert rule with a custom threshold. Non-positive
// thresholds fall back to AlertThreshold.
func IncrementAt(existing, threshold int) CountResult {
	if threshold <= 0 {
		threshold = AlertThreshold
	}
	newCount := existing + 1
	return CountResult{
		NewCount:       newCount,
		AlertTriggered: newCount >= threshold,
	}
}
