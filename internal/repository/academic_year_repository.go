package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-student-records/internal/models"
)

// AcademicYearRepository reads institution academic years.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository constructs an AcademicYearRepository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

// FindActive returns the active academic year of an institution, or sql.ErrNoRows when none is marked active.
func (r *AcademicYearRepository) FindActive(ctx context.Context, instansiID string) (*models.AcademicYear, error) {
	const query = `SELECT id, instansi_id, name, start_date, end_date, is_active, created_at, updated_at
        FROM academic_years WHERE instansi_id = $1 AND is_active = TRUE ORDER BY start_date DESC LIMIT 1`
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, instansiID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active academic year: %w", err)
	}
	return &year, nil
}
