package models

import "time"

// Student represents a learner synced from the EcoleDirecte roster.
type Student struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"ecoledirecte_id"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	ClassID    *string   `db:"class_id" json:"student_class,omitempty"`
	Active     bool      `db:"active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// FullName renders the student name the way the dashboard displays it.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentDetail carries the joined class name for list responses.
type StudentDetail struct {
	Student
	ClassName *string `db:"class_name" json:"class_name,omitempty"`
}

// StudentFilter encapsulates search parameters for listing students.
type StudentFilter struct {
	Search   string
	ClassID  string
	Active   *bool
	Page     int
	PageSize int
}

// StudentSearchResult is the autocomplete row shape consumed by the search bar.
type StudentSearchResult struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ClassName string `json:"class_name"`
}

// SyncResult summarises a roster synchronisation run.
type SyncResult struct {
	Added       int    `json:"students_added"`
	Updated     int    `json:"students_updated"`
	Deactivated int    `json:"students_deactivated"`
	Message     string `json:"message"`
}

// Class groups students; owned by the roster and never mutated by the
// counting core.
type Class struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"ecoledirecte_id"`
	Name       string    `db:"name" json:"name"`
	Level      string    `db:"level" json:"level"`
	Active     bool      `db:"active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
