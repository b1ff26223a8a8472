package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/pkg/database"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, instansiID, id string) (*models.Student, error)
	FindByNIK(ctx context.Context, nik, instansiID string) ([]models.Student, error)
	ExistsNIKInTenant(ctx context.Context, instansiID, nik, excludeID string) (bool, error)
	ExistsNISNInTenant(ctx context.Context, instansiID, nisn, excludeID string) (bool, error)
	ActiveNIKElsewhere(ctx context.Context, nik, instansiID, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, instansiID, id string) error
	UpdateAcademicLevel(ctx context.Context, student *models.Student, promotion *models.StudentPromotion) error
}

type academicYearRepository interface {
	FindActive(ctx context.Context, instansiID string) (*models.AcademicYear, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry models.AuditLog)
}

// StudentServiceConfig tunes cache lifetimes.
type StudentServiceConfig struct {
	RecordTTL time.Duration
	ListTTL   time.Duration
}

// StudentService enforces the student identity rules and keeps the cache coherent with writes.
type StudentService struct {
	repo      studentRepository
	years     academicYearRepository
	cache     *CacheService
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       StudentServiceConfig
}

// StudentServiceParams groups constructor dependencies.
type StudentServiceParams struct {
	Repo          studentRepository
	AcademicYears academicYearRepository
	Cache         *CacheService
	Audit         auditRecorder
	Metrics       *MetricsService
	Validator     *validator.Validate
	Logger        *zap.Logger
	Config        StudentServiceConfig
}

// NewStudentService constructs the student service.
func NewStudentService(params StudentServiceParams) *StudentService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Config.RecordTTL <= 0 {
		params.Config.RecordTTL = 10 * time.Minute
	}
	if params.Config.ListTTL <= 0 {
		params.Config.ListTTL = 5 * time.Minute
	}
	return &StudentService{
		repo:      params.Repo,
		years:     params.AcademicYears,
		cache:     params.Cache,
		audit:     params.Audit,
		metrics:   params.Metrics,
		validator: params.Validator,
		logger:    params.Logger,
		cfg:       params.Config,
	}
}

type studentListPage struct {
	Students []models.Student `json:"students"`
	Total    int              `json:"total"`
}

// List returns a page of students. Results are cached unless a free-text search is present.
func (s *StudentService) List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, bool, error) {
	filter = filter.Normalize()
	filter.Search = strings.TrimSpace(filter.Search)

	year, err := s.resolveAcademicYear(ctx, instansiID, filter.AcademicYear)
	if err != nil {
		return nil, nil, false, err
	}
	filter.AcademicYear = year

	cacheable := filter.Search == ""
	var key CacheKey
	if cacheable {
		key, cacheable = s.cache.Pin(ctx, ListKey(instansiID, EntityStudent, listSignature(filter)))
	}
	if cacheable {
		var cached studentListPage
		if s.cache.Get(ctx, key, &cached) {
			return cached.Students, models.NewPagination(filter.Page, filter.PageSize, cached.Total), true, nil
		}
	}

	start := time.Now()
	students, total, err := s.repo.List(ctx, instansiID, filter)
	s.metrics.ObserveDBQuery("student_list", time.Since(start))
	if err != nil {
		return nil, nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if cacheable {
		s.cache.Set(ctx, key, studentListPage{Students: students, Total: total}, s.cfg.ListTTL)
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), false, nil
}

// listSignature encodes every filter dimension so distinct queries never share a key.
func listSignature(f models.StudentFilter) string {
	return fmt.Sprintf("class=%s|status=%s|gender=%s|year=%s|page=%d|limit=%d|sort=%s|order=%s",
		f.ClassID, f.Status, f.Gender, f.AcademicYear, f.Page, f.PageSize, f.SortBy, strings.ToLower(f.SortOrder))
}

// Get returns one student of the institution, cache first.
func (s *StudentService) Get(ctx context.Context, instansiID, id string) (*models.Student, bool, error) {
	key, cacheable := s.cache.Pin(ctx, RecordKey(instansiID, EntityStudent, id))
	var cached models.Student
	if cacheable && s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}
	student, err := s.load(ctx, instansiID, id)
	if err != nil {
		return nil, false, err
	}
	if cacheable {
		s.cache.Set(ctx, key, student, s.cfg.RecordTTL)
	}
	return student, false, nil
}

// Create registers a new student in the institution.
func (s *StudentService) Create(ctx context.Context, instansiID string, payload dto.StudentPayload) (*models.Student, error) {
	if payload.NIK == nil || strings.TrimSpace(*payload.NIK) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nik is required")
	}
	student := &models.Student{InstansiID: instansiID, IsActive: true}
	applyStudentPayload(student, payload)
	if err := s.validateStudent(student); err != nil {
		return nil, err
	}
	if err := s.checkIdentity(ctx, student, ""); err != nil {
		return nil, err
	}
	if student.AcademicYear == "" {
		year, err := s.activeAcademicYear(ctx, instansiID)
		if err != nil {
			return nil, err
		}
		student.AcademicYear = year
	}

	if err := s.repo.Create(ctx, student); err != nil {
		return nil, mapStudentWriteError(err, "failed to create student")
	}

	s.invalidate(ctx, instansiID)
	s.record(ctx, models.AuditActionStudentCreate, student, nil, student)
	return student, nil
}

// Update applies only the supplied fields to an existing student.
func (s *StudentService) Update(ctx context.Context, instansiID, id string, payload dto.StudentPayload) (*models.Student, error) {
	current, err := s.load(ctx, instansiID, id)
	if err != nil {
		return nil, err
	}
	before := *current
	updated := *current
	applyStudentPayload(&updated, payload)
	updated.InstansiID = instansiID
	if err := s.validateStudent(&updated); err != nil {
		return nil, err
	}

	if identityChanged(&before, &updated) {
		if err := s.checkIdentity(ctx, &updated, id); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, mapStudentWriteError(err, "failed to update student")
	}

	s.invalidate(ctx, instansiID)
	s.record(ctx, models.AuditActionStudentUpdate, &updated, &before, &updated)
	return &updated, nil
}

// Remove deletes a student after confirming it belongs to the institution.
func (s *StudentService) Remove(ctx context.Context, instansiID, id string) error {
	current, err := s.load(ctx, instansiID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, instansiID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.invalidate(ctx, instansiID)
	s.record(ctx, models.AuditActionStudentDelete, current, current, nil)
	return nil
}

// UpdateAcademicLevel moves a student to a new placement and records the promotion.
func (s *StudentService) UpdateAcademicLevel(ctx context.Context, instansiID, id string, req dto.AcademicLevelRequest) (*models.Student, error) {
	req.AcademicLevel = strings.TrimSpace(req.AcademicLevel)
	req.CurrentGrade = strings.TrimSpace(req.CurrentGrade)
	req.AcademicYear = strings.TrimSpace(req.AcademicYear)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic level payload")
	}
	current, err := s.load(ctx, instansiID, id)
	if err != nil {
		return nil, err
	}
	before := *current
	updated := *current
	updated.AcademicLevel = req.AcademicLevel
	updated.CurrentGrade = req.CurrentGrade
	updated.AcademicYear = req.AcademicYear

	promotion := &models.StudentPromotion{
		StudentID:        id,
		InstansiID:       instansiID,
		FromLevel:        before.AcademicLevel,
		ToLevel:          updated.AcademicLevel,
		FromGrade:        before.CurrentGrade,
		ToGrade:          updated.CurrentGrade,
		FromAcademicYear: before.AcademicYear,
		ToAcademicYear:   updated.AcademicYear,
	}
	if err := s.repo.UpdateAcademicLevel(ctx, &updated, promotion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update academic level")
	}

	s.invalidate(ctx, instansiID)
	s.record(ctx, models.AuditActionStudentAcademicLevel, &updated, &before, &updated)
	return &updated, nil
}

func (s *StudentService) load(ctx context.Context, instansiID, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, instansiID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) validateStudent(student *models.Student) error {
	if err := s.validator.Struct(student); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	return nil
}

// checkIdentity runs the identity rules in order: nik within the institution, nisn within the
// institution, then the active-elsewhere rule for active records. excludeID skips the record itself.
func (s *StudentService) checkIdentity(ctx context.Context, student *models.Student, excludeID string) error {
	exists, err := s.repo.ExistsNIKInTenant(ctx, student.InstansiID, student.NIK, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nik")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrDuplicateNIK, "")
	}

	if nisn := student.NISNValue(); nisn != "" {
		exists, err = s.repo.ExistsNISNInTenant(ctx, student.InstansiID, nisn, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate nisn")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrDuplicateNISN, "")
		}
	}

	if student.IsActive {
		exists, err = s.repo.ActiveNIKElsewhere(ctx, student.NIK, student.InstansiID, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate active status")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrAlreadyActiveElsewhere, "")
		}
	}
	return nil
}

func identityChanged(before, after *models.Student) bool {
	return before.NIK != after.NIK || before.NISNValue() != after.NISNValue() || before.IsActive != after.IsActive
}

func mapStudentWriteError(err error, message string) error {
	if errors.Is(err, database.ErrUniqueViolation) {
		return appErrors.Wrap(err, appErrors.ErrDuplicateIdentity.Code, appErrors.ErrDuplicateIdentity.Status, appErrors.ErrDuplicateIdentity.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// resolveAcademicYear maps an omitted or "all" year onto the institution's active year. An empty
// result means no academic year filter.
func (s *StudentService) resolveAcademicYear(ctx context.Context, instansiID, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" && !strings.EqualFold(requested, models.AcademicYearAll) {
		return requested, nil
	}
	return s.activeAcademicYear(ctx, instansiID)
}

func (s *StudentService) activeAcademicYear(ctx context.Context, instansiID string) (string, error) {
	if s.years == nil {
		return "", nil
	}
	year, err := s.years.FindActive(ctx, instansiID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve academic year")
	}
	return year.Name, nil
}

// invalidate runs synchronously after the row is committed and before the write returns. The bump
// retires records, lists and the dashboard of the tenant at once; the sweep only reclaims space.
// Failures are absorbed by the cache service.
func (s *StudentService) invalidate(ctx context.Context, instansiID string) {
	_ = s.cache.Bump(ctx, instansiID)
	_ = s.cache.Invalidate(ctx, instansiID, TenantPattern(instansiID))
}

func (s *StudentService) record(ctx context.Context, action string, student *models.Student, before, after *models.Student) {
	if s.audit == nil {
		return
	}
	tenant := student.InstansiID
	resourceID := student.ID
	entry := models.AuditLog{
		InstansiID: &tenant,
		Action:     action,
		Resource:   "student",
		ResourceID: &resourceID,
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	s.audit.Record(ctx, entry)
}

// applyStudentPayload copies every supplied field onto the student.
func applyStudentPayload(st *models.Student, p dto.StudentPayload) {
	setTrimmed := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setOptional := func(dst **string, src *string) {
		if src == nil {
			return
		}
		value := strings.TrimSpace(*src)
		if value == "" {
			*dst = nil
			return
		}
		*dst = &value
	}

	setTrimmed(&st.NIK, p.NIK)
	setOptional(&st.NISN, p.NISN)
	setTrimmed(&st.FullName, p.FullName)
	setTrimmed(&st.Nickname, p.Nickname)
	if p.Gender != nil {
		st.Gender = dto.NormalizeGender(*p.Gender)
	}
	setTrimmed(&st.BirthPlace, p.BirthPlace)
	if p.BirthDate != nil {
		if p.BirthDate.IsZero() {
			st.BirthDate = nil
		} else {
			date := p.BirthDate.Time
			st.BirthDate = &date
		}
	}
	setTrimmed(&st.Religion, p.Religion)
	setTrimmed(&st.Email, p.Email)
	setTrimmed(&st.Phone, p.Phone)

	setTrimmed(&st.Address, p.Address)
	setTrimmed(&st.RT, p.RT)
	setTrimmed(&st.RW, p.RW)
	setTrimmed(&st.Village, p.Village)
	setTrimmed(&st.District, p.District)
	setTrimmed(&st.City, p.City)
	setTrimmed(&st.Province, p.Province)
	setTrimmed(&st.PostalCode, p.PostalCode)

	setTrimmed(&st.FatherName, p.FatherName)
	setTrimmed(&st.FatherNIK, p.FatherNIK)
	setTrimmed(&st.FatherPhone, p.FatherPhone)
	setTrimmed(&st.FatherOccupation, p.FatherOccupation)
	setTrimmed(&st.FatherEducation, p.FatherEducation)
	setTrimmed(&st.FatherIncome, p.FatherIncome)

	setTrimmed(&st.MotherName, p.MotherName)
	setTrimmed(&st.MotherNIK, p.MotherNIK)
	setTrimmed(&st.MotherPhone, p.MotherPhone)
	setTrimmed(&st.MotherOccupation, p.MotherOccupation)
	setTrimmed(&st.MotherEducation, p.MotherEducation)
	setTrimmed(&st.MotherIncome, p.MotherIncome)

	setTrimmed(&st.GuardianName, p.GuardianName)
	setTrimmed(&st.GuardianRelation, p.GuardianRelation)
	setTrimmed(&st.GuardianPhone, p.GuardianPhone)
	setTrimmed(&st.GuardianOccupation, p.GuardianOccupation)
	setTrimmed(&st.GuardianEducation, p.GuardianEducation)
	setTrimmed(&st.GuardianIncome, p.GuardianIncome)

	setOptional(&st.ClassID, p.ClassID)
	setTrimmed(&st.AcademicYear, p.AcademicYear)
	setTrimmed(&st.AcademicLevel, p.AcademicLevel)
	setTrimmed(&st.CurrentGrade, p.CurrentGrade)

	if p.IsActive != nil {
		st.IsActive = *p.IsActive
	}
}
