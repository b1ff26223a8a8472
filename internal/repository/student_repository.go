package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/pkg/database"
)

const studentColumns = `id, instansi_id, nik, nisn, full_name, nickname, gender, birth_place, birth_date, religion, email, phone,
        address, rt, rw, village, district, city, province, postal_code,
        father_name, father_nik, father_phone, father_occupation, father_education, father_income,
        mother_name, mother_nik, mother_phone, mother_occupation, mother_education, mother_income,
        guardian_name, guardian_relation, guardian_phone, guardian_occupation, guardian_education, guardian_income,
        class_id, academic_year, academic_level, current_grade, is_active, created_at, updated_at`

// StudentRepository manages persistence for student records. Every read and write is scoped by instansi_id
// except ActiveNIKElsewhere, which exists to look across institutions.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students of one institution matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, int, error) {
	filter = filter.Normalize()
	args := []interface{}{instansiID}
	conditions := []string{"instansi_id = $1"}

	if filter.Search != "" {
		n := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR nickname ILIKE $%d OR nik ILIKE $%d OR nisn ILIKE $%d)", n, n, n, n))
		args = append(args, "%"+strings.TrimSpace(filter.Search)+"%")
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	switch filter.Status {
	case models.StudentStatusActive:
		conditions = append(conditions, "is_active = TRUE")
	case models.StudentStatusInactive:
		conditions = append(conditions, "is_active = FALSE")
	}
	if filter.Gender != "" {
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)+1))
		args = append(args, filter.Gender)
	}
	if filter.AcademicYear != "" && filter.AcademicYear != models.AcademicYearAll {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"full_name":     "full_name",
		"nik":           "nik",
		"nisn":          "nisn",
		"created_at":    "created_at",
		"current_grade": "current_grade",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	offset := (filter.Page - 1) * filter.PageSize

	query := fmt.Sprintf("SELECT %s FROM students %s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d", studentColumns, where, column, order, filter.PageSize, offset)
	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student of the institution. A student of another institution yields sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, instansiID, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1 AND instansi_id = $2", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id, instansiID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// FindByNIK returns every record of a person. An empty instansiID searches all institutions.
func (r *StudentRepository) FindByNIK(ctx context.Context, nik, instansiID string) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE nik = $1", studentColumns)
	args := []interface{}{nik}
	if instansiID != "" {
		query += " AND instansi_id = $2"
		args = append(args, instansiID)
	}
	query += " ORDER BY is_active DESC, updated_at DESC"
	students := []models.Student{}
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("find students by nik: %w", err)
	}
	return students, nil
}

// ExistsNIKInTenant reports whether the NIK is already registered in the institution, optionally excluding an ID.
func (r *StudentRepository) ExistsNIKInTenant(ctx context.Context, instansiID, nik, excludeID string) (bool, error) {
	return r.exists(ctx, "nik", instansiID, nik, excludeID)
}

// ExistsNISNInTenant reports whether the NISN is already registered in the institution, optionally excluding an ID.
func (r *StudentRepository) ExistsNISNInTenant(ctx context.Context, instansiID, nisn, excludeID string) (bool, error) {
	return r.exists(ctx, "nisn", instansiID, nisn, excludeID)
}

func (r *StudentRepository) exists(ctx context.Context, column, instansiID, value, excludeID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM students WHERE instansi_id = $1 AND %s = $2", column)
	args := []interface{}{instansiID, value}
	if excludeID != "" {
		query += " AND id <> $3"
		args = append(args, excludeID)
	}
	var found int
	if err := r.db.GetContext(ctx, &found, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check %s: %w", column, err)
	}
	return true, nil
}

// ActiveNIKElsewhere reports whether an active record with the NIK exists in any other institution.
func (r *StudentRepository) ActiveNIKElsewhere(ctx context.Context, nik, instansiID, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE nik = $1 AND is_active = TRUE AND instansi_id <> $2"
	args := []interface{}{nik, instansiID}
	if excludeID != "" {
		query += " AND id <> $3"
		args = append(args, excludeID)
	}
	var found int
	if err := r.db.GetContext(ctx, &found, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active nik: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, instansi_id, nik, nisn, full_name, nickname, gender, birth_place, birth_date, religion, email, phone,
        address, rt, rw, village, district, city, province, postal_code,
        father_name, father_nik, father_phone, father_occupation, father_education, father_income,
        mother_name, mother_nik, mother_phone, mother_occupation, mother_education, mother_income,
        guardian_name, guardian_relation, guardian_phone, guardian_occupation, guardian_education, guardian_income,
        class_id, academic_year, academic_level, current_grade, is_active, created_at, updated_at)
        VALUES (:id, :instansi_id, :nik, :nisn, :full_name, :nickname, :gender, :birth_place, :birth_date, :religion, :email, :phone,
        :address, :rt, :rw, :village, :district, :city, :province, :postal_code,
        :father_name, :father_nik, :father_phone, :father_occupation, :father_education, :father_income,
        :mother_name, :mother_nik, :mother_phone, :mother_occupation, :mother_education, :mother_income,
        :guardian_name, :guardian_relation, :guardian_phone, :guardian_occupation, :guardian_education, :guardian_income,
        :class_id, :academic_year, :academic_level, :current_grade, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", database.MapWriteError(err))
	}
	return nil
}

// Update overwrites a student within its institution. Missing rows yield sql.ErrNoRows.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET nik = :nik, nisn = :nisn, full_name = :full_name, nickname = :nickname, gender = :gender,
        birth_place = :birth_place, birth_date = :birth_date, religion = :religion, email = :email, phone = :phone,
        address = :address, rt = :rt, rw = :rw, village = :village, district = :district, city = :city, province = :province, postal_code = :postal_code,
        father_name = :father_name, father_nik = :father_nik, father_phone = :father_phone, father_occupation = :father_occupation, father_education = :father_education, father_income = :father_income,
        mother_name = :mother_name, mother_nik = :mother_nik, mother_phone = :mother_phone, mother_occupation = :mother_occupation, mother_education = :mother_education, mother_income = :mother_income,
        guardian_name = :guardian_name, guardian_relation = :guardian_relation, guardian_phone = :guardian_phone, guardian_occupation = :guardian_occupation, guardian_education = :guardian_education, guardian_income = :guardian_income,
        class_id = :class_id, academic_year = :academic_year, academic_level = :academic_level, current_grade = :current_grade,
        is_active = :is_active, updated_at = :updated_at
        WHERE id = :id AND instansi_id = :instansi_id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", database.MapWriteError(err))
	}
	return requireAffected(res)
}

// Delete removes a student within its institution. Missing rows yield sql.ErrNoRows.
func (r *StudentRepository) Delete(ctx context.Context, instansiID, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1 AND instansi_id = $2", id, instansiID)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return requireAffected(res)
}

// UpdateAcademicLevel moves the student to a new placement and records the promotion in one transaction.
func (r *StudentRepository) UpdateAcademicLevel(ctx context.Context, student *models.Student, promotion *models.StudentPromotion) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin academic level tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	student.UpdatedAt = now
	res, err := tx.ExecContext(ctx, `UPDATE students SET academic_level = $1, current_grade = $2, academic_year = $3, updated_at = $4 WHERE id = $5 AND instansi_id = $6`,
		student.AcademicLevel, student.CurrentGrade, student.AcademicYear, now, student.ID, student.InstansiID)
	if err != nil {
		return fmt.Errorf("update academic level: %w", err)
	}
	if err = requireAffected(res); err != nil {
		return err
	}

	if promotion.ID == "" {
		promotion.ID = uuid.NewString()
	}
	if promotion.PromotedAt.IsZero() {
		promotion.PromotedAt = now
	}
	promotion.CreatedAt = now
	if _, err = tx.NamedExecContext(ctx, `INSERT INTO student_promotions (id, student_id, instansi_id, from_level, to_level, from_grade, to_grade, from_academic_year, to_academic_year, promoted_at, created_at)
        VALUES (:id, :student_id, :instansi_id, :from_level, :to_level, :from_grade, :to_grade, :from_academic_year, :to_academic_year, :promoted_at, :created_at)`, promotion); err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit academic level: %w", err)
	}
	return nil
}

// Stats aggregates the institution's student population.
func (r *StudentRepository) Stats(ctx context.Context, instansiID string) (*models.StudentStats, error) {
	stats := &models.StudentStats{ByGender: map[string]int{}, ByAcademicLevel: map[string]int{}}
	var totals struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	if err := r.db.GetContext(ctx, &totals, `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE is_active) AS active FROM students WHERE instansi_id = $1`, instansiID); err != nil {
		return nil, fmt.Errorf("student totals: %w", err)
	}
	stats.Total = totals.Total
	stats.Active = totals.Active
	stats.Inactive = totals.Total - totals.Active

	var genders []models.GroupCount
	if err := r.db.SelectContext(ctx, &genders, `SELECT gender AS label, COUNT(*) AS total FROM students WHERE instansi_id = $1 AND is_active = TRUE GROUP BY gender`, instansiID); err != nil {
		return nil, fmt.Errorf("student gender stats: %w", err)
	}
	for _, g := range genders {
		stats.ByGender[g.Label] = g.Total
	}

	var levels []models.GroupCount
	if err := r.db.SelectContext(ctx, &levels, `SELECT academic_level AS label, COUNT(*) AS total FROM students WHERE instansi_id = $1 AND is_active = TRUE GROUP BY academic_level`, instansiID); err != nil {
		return nil, fmt.Errorf("student level stats: %w", err)
	}
	for _, l := range levels {
		stats.ByAcademicLevel[l.Label] = l.Total
	}
	return stats, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
