package models

import "time"

// ForgotCard represents a single forgotten-card event. Week coordinates and
// the week count are computed once at creation time and stored; they are not
// recomputed from recorded_at on reads, so historical events keep their week
// even if the computation rules change.
type ForgotCard struct {
	ID                  string     `db:"id" json:"id"`
	StudentID           string     `db:"student_id" json:"student_id"`
	RecordedBy          string     `db:"recorded_by" json:"recorded_by"`
	RecordedAt          time.Time  `db:"recorded_at" json:"recorded_at"`
	WeekNumber          int        `db:"week_number" json:"week_number"`
	WeekYear            int        `db:"week_year" json:"week_year"`
	WeekCount           int        `db:"week_count" json:"week_count"`
	NoteManuallyAdded   bool       `db:"note_manually_added" json:"note_manually_added"`
	NoteManuallyAddedAt *time.Time `db:"note_manually_added_at" json:"note_manually_added_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// ForgotCardDetail joins student and recorder context onto an event.
type ForgotCardDetail struct {
	ForgotCard
	StudentFirstName string  `db:"student_first_name" json:"student_first_name"`
	StudentLastName  string  `db:"student_last_name" json:"student_last_name"`
	ClassName        *string `db:"class_name" json:"class_name,omitempty"`
	RecordedByName   string  `db:"recorded_by_name" json:"recorded_by_name"`
}

// ForgotCardView is a detail row enriched with its chronological position
// within the (student, week, year) group.
type ForgotCardView struct {
	ForgotCardDetail
	Position int `json:"position"`
}

// ForgotCardPeriod restricts listings to a rolling window.
type ForgotCardPeriod string

const (
	PeriodToday ForgotCardPeriod = "today"
	PeriodWeek  ForgotCardPeriod = "week"
	PeriodMonth ForgotCardPeriod = "month"
	PeriodYear  ForgotCardPeriod = "year"
)

// ForgotCardFilter captures listing criteria.
type ForgotCardFilter struct {
	StudentID         string
	ClassID           string
	Period            ForgotCardPeriod
	StartDate         *time.Time
	EndDate           *time.Time
	NoteManuallyAdded *bool
	Page              int
	PageSize          int
}

// WeeklyCount is the derived per-student counter for the current ISO week.
type WeeklyCount struct {
	StudentID      string `json:"student_id"`
	StudentName    string `json:"student_name"`
	WeekNumber     int    `json:"week_number"`
	WeekYear       int    `json:"week_year"`
	WeekCount      int    `json:"week_count"`
	ShouldSendNote bool   `json:"should_send_note"`
}

// RecordResult is returned after recording a new event.
type RecordResult struct {
	Event          ForgotCardDetail `json:"event"`
	WeekCount      int              `json:"week_count"`
	AlertTriggered bool             `json:"is_third_forgot"`
	Message        string           `json:"message"`
}

// NoteRequirement describes a (student, week, year) group that reached the
// alert threshold and whether its carnet note was already handled.
type NoteRequirement struct {
	StudentID           string     `json:"student_id"`
	StudentName         string     `json:"student_name"`
	ClassName           string     `json:"student_class"`
	ForgotCount         int        `json:"forgot_count"`
	LastForgotAt        time.Time  `json:"last_forgot_at"`
	NoteManuallyAdded   bool       `json:"note_manually_added"`
	NoteManuallyAddedAt *time.Time `json:"note_manually_added_at,omitempty"`
}

// NoteRequirementList wraps requirements with their week context.
type NoteRequirementList struct {
	WeekNumber int               `json:"week_number"`
	WeekYear   int               `json:"year"`
	WeekLabel  string            `json:"week_label"`
	Count      int               `json:"count"`
	Students   []NoteRequirement `json:"students"`
}

// MarkNoteResult reports the outcome of marking or unmarking a group.
type MarkNoteResult struct {
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name"`
	WeekNumber    int    `json:"week_number"`
	WeekYear      int    `json:"year"`
	UpdatedEvents int    `json:"forgot_cards_updated"`
	Message       string `json:"message"`
}
