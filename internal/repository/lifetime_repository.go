package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-student-records/internal/models"
)

// LifetimeCategory describes one related table contributing to a student's lifetime record.
type LifetimeCategory struct {
	Name       string
	Table      string
	DateColumn string
}

// LifetimeCategories is the catalogue of related collections, in display order.
var LifetimeCategories = []LifetimeCategory{
	{Name: "grades", Table: "grades", DateColumn: "recorded_at"},
	{Name: "attendances", Table: "attendances", DateColumn: "attendance_date"},
	{Name: "health_records", Table: "health_records", DateColumn: "checkup_date"},
	{Name: "disciplinary_actions", Table: "disciplinary_actions", DateColumn: "incident_date"},
	{Name: "counseling_sessions", Table: "counseling_sessions", DateColumn: "session_date"},
	{Name: "extracurriculars", Table: "extracurricular_members", DateColumn: "joined_at"},
	{Name: "course_enrollments", Table: "course_enrollments", DateColumn: "enrolled_at"},
	{Name: "course_progress", Table: "course_progress", DateColumn: "last_accessed_at"},
	{Name: "exam_attempts", Table: "exam_attempts", DateColumn: "started_at"},
	{Name: "transfers", Table: "student_transfers", DateColumn: "transfer_date"},
	{Name: "biometric_enrollments", Table: "biometric_enrollments", DateColumn: "enrolled_at"},
	{Name: "biometric_attendances", Table: "biometric_attendances", DateColumn: "scanned_at"},
	{Name: "signed_documents", Table: "signed_documents", DateColumn: "signed_at"},
	{Name: "promotions", Table: "student_promotions", DateColumn: "promoted_at"},
	{Name: "book_loans", Table: "book_loans", DateColumn: "loan_date"},
	{Name: "fee_payments", Table: "fee_payments", DateColumn: "paid_at"},
	{Name: "event_registrations", Table: "event_registrations", DateColumn: "registered_at"},
	{Name: "video_progress", Table: "video_progress", DateColumn: "watched_at"},
	{Name: "quiz_attempts", Table: "quiz_attempts", DateColumn: "submitted_at"},
	{Name: "assignment_submissions", Table: "assignment_submissions", DateColumn: "submitted_at"},
	{Name: "student_cards", Table: "student_cards", DateColumn: "issued_at"},
	{Name: "cafeteria_orders", Table: "cafeteria_orders", DateColumn: "ordered_at"},
}

// LifetimeRepository loads the related collections of a student's lifetime record.
type LifetimeRepository struct {
	db *sqlx.DB
}

// NewLifetimeRepository constructs a LifetimeRepository.
func NewLifetimeRepository(db *sqlx.DB) *LifetimeRepository {
	return &LifetimeRepository{db: db}
}

// Categories returns the catalogue served by this repository.
func (r *LifetimeRepository) Categories() []LifetimeCategory {
	return LifetimeCategories
}

// LoadCategory returns every row of the category belonging to any of the student ids, oldest first.
func (r *LifetimeRepository) LoadCategory(ctx context.Context, category LifetimeCategory, studentIDs []string) ([]models.LifetimeEntry, error) {
	entries := []models.LifetimeEntry{}
	if len(studentIDs) == 0 {
		return entries, nil
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE student_id = ANY($1) ORDER BY COALESCE(%s, created_at) ASC, id ASC", category.Table, category.DateColumn)
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(studentIDs))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", category.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s: %w", category.Name, err)
		}
		entries = append(entries, toLifetimeEntry(row, category.DateColumn))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", category.Name, err)
	}
	return entries, nil
}

func toLifetimeEntry(row map[string]interface{}, dateColumn string) models.LifetimeEntry {
	for key, value := range row {
		if raw, ok := value.([]byte); ok {
			row[key] = string(raw)
		}
	}
	entry := models.LifetimeEntry{Fields: map[string]interface{}{}}
	for key, value := range row {
		switch key {
		case "id":
			entry.ID = fmt.Sprint(value)
		case "student_id":
			entry.StudentID = fmt.Sprint(value)
		case "instansi_id":
		case "created_at":
			if ts, ok := value.(time.Time); ok {
				entry.CreatedAt = ts
			}
		case dateColumn:
			if ts, ok := value.(time.Time); ok {
				entry.Date = &ts
			}
		default:
			entry.Fields[key] = value
		}
	}
	return entry
}
