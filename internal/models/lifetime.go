package models

import "time"

// LifetimeEntry is one historical row of a lifetime category.
type LifetimeEntry struct {
	ID        string                 `json:"id"`
	StudentID string                 `json:"student_id"`
	Date      *time.Time             `json:"date,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Fields    map[string]interface{} `json:"fields"`
}

// SortTime is the instant an entry is ordered by: its domain date, else its creation time.
func (e LifetimeEntry) SortTime() time.Time {
	if e.Date != nil && !e.Date.IsZero() {
		return *e.Date
	}
	return e.CreatedAt
}

// LifetimeBundle gathers a person's records across every related category.
type LifetimeBundle struct {
	Student Student                    `json:"student"`
	Records []Student                  `json:"records"`
	Summary map[string]int             `json:"summary"`
	Data    map[string][]LifetimeEntry `json:"data"`
}
