package models

import "time"

// DashboardStats backs the landing-page stat cards.
type DashboardStats struct {
	TodayCount        int `json:"today_count"`
	WeekCount         int `json:"week_count"`
	NotesSentWeek     int `json:"notes_sent_week"`
	PendingNotesCount int `json:"pending_notes_count"`
	StudentsToWatch   int `json:"students_to_watch"`
}

// TopStudent is one podium entry in the period statistics.
type TopStudent struct {
	StudentID   string `db:"student_id" json:"student_id"`
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"student_class"`
	ForgotCount int    `db:"forgot_count" json:"forgot_count"`
	NotesSent   int    `db:"notes_sent" json:"notes_sent"`
}

// ClassCount aggregates events per class for the class chart.
type ClassCount struct {
	ClassName string `db:"class_name" json:"class_name"`
	Count     int    `db:"count" json:"count"`
}

// DayCount aggregates events per calendar day for the evolution chart and
// heatmap.
type DayCount struct {
	Day   string `db:"day" json:"day"`
	Count int    `db:"count" json:"count"`
}

// SystemMetrics is a lightweight observability snapshot exposed to admins.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// Statistics is the period-scoped aggregate payload.
type Statistics struct {
	Period                 string       `json:"period"`
	TotalForgotCards       int          `json:"total_forgot_cards"`
	TotalNotesSent         int          `json:"total_notes_sent"`
	TotalStudentsConcerned int          `json:"total_students_concerned"`
	TopStudents            []TopStudent `json:"top_students"`
	ByClass                []ClassCount `json:"by_class"`
	ByDay                  []DayCount   `json:"by_day"`
}
