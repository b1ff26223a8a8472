package models

import "time"

// AcademicYear is an institution-scoped school year (e.g. "2024/2025").
type AcademicYear struct {
	ID         string    `db:"id" json:"id"`
	InstansiID string    `db:"instansi_id" json:"instansi_id"`
	Name       string    `db:"name" json:"name"`
	StartDate  time.Time `db:"start_date" json:"start_date"`
	EndDate    time.Time `db:"end_date" json:"end_date"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
