package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/response"
)

const maxJSONBody = 1 << 20

type studentService interface {
	List(ctx context.Context, instansiID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, bool, error)
	Get(ctx context.Context, instansiID, id string) (*models.Student, bool, error)
	Create(ctx context.Context, instansiID string, payload dto.StudentPayload) (*models.Student, error)
	Update(ctx context.Context, instansiID, id string, payload dto.StudentPayload) (*models.Student, error)
	Remove(ctx context.Context, instansiID, id string) error
	UpdateAcademicLevel(ctx context.Context, instansiID, id string, req dto.AcademicLevelRequest) (*models.Student, error)
}

type lifetimeService interface {
	LifetimeData(ctx context.Context, nik, instansiID string) (*models.LifetimeBundle, error)
}

// StudentHandler exposes tenant-scoped student endpoints.
type StudentHandler struct {
	students studentService
	lifetime lifetimeService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, lifetime lifetimeService) *StudentHandler {
	return &StudentHandler{students: students, lifetime: lifetime}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param search query string false "Search by name, nickname, nik or nisn"
// @Param classId query string false "Filter by class"
// @Param status query string false "active or inactive"
// @Param gender query string false "L or P"
// @Param academicYear query string false "Academic year, defaults to the active one"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /instansi/{instansiId}/students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := parseStudentFilter(c)
	students, pagination, cacheHit, err := h.students.List(c.Request.Context(), middleware.TenantID(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, students, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /instansi/{instansiId}/students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, cacheHit, err := h.students.Get(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, student, nil, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Create student
// @Description Field names are accepted in snake_case, camelCase or the Indonesian spreadsheet spelling.
// @Tags Students
// @Accept json
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param payload body dto.StudentPayload true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instansi/{instansiId}/students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	payload, err := bindStudentPayload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.Create(c.Request.Context(), middleware.TenantID(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Patch student
// @Description Only supplied fields change. Identity rules are re-checked when nik, nisn or is_active change.
// @Tags Students
// @Accept json
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param id path string true "Student ID"
// @Param payload body dto.StudentPayload true "Student payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instansi/{instansiId}/students/{id} [patch]
func (h *StudentHandler) Update(c *gin.Context) {
	payload, err := bindStudentPayload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.Update(c.Request.Context(), middleware.TenantID(c), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student
// @Tags Students
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /instansi/{instansiId}/students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.students.Remove(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"id": id, "deleted": true}, nil)
}

// UpdateAcademicLevel godoc
// @Summary Change a student's academic placement
// @Tags Students
// @Accept json
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param id path string true "Student ID"
// @Param payload body dto.AcademicLevelRequest true "Placement payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /instansi/{instansiId}/students/{id}/academic-level [patch]
func (h *StudentHandler) UpdateAcademicLevel(c *gin.Context) {
	var req dto.AcademicLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.UpdateAcademicLevel(c.Request.Context(), middleware.TenantID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Lifetime godoc
// @Summary Lifetime records of a person within the institution
// @Tags Students
// @Produce json
// @Param instansiId path string true "Institution ID"
// @Param nik path string true "NIK"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /instansi/{instansiId}/students/nik/{nik}/lifetime [get]
func (h *StudentHandler) Lifetime(c *gin.Context) {
	h.lifetimeFor(c, middleware.TenantID(c))
}

// LifetimeGlobal godoc
// @Summary Lifetime records of a person across every institution
// @Tags Students
// @Produce json
// @Param nik path string true "NIK"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/nik/{nik}/lifetime [get]
func (h *StudentHandler) LifetimeGlobal(c *gin.Context) {
	h.lifetimeFor(c, "")
}

func (h *StudentHandler) lifetimeFor(c *gin.Context, instansiID string) {
	nik := strings.TrimSpace(c.Param("nik"))
	if nik == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "nik is required"))
		return
	}
	bundle, err := h.lifetime.LifetimeData(c.Request.Context(), nik, instansiID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bundle, nil)
}

// bindStudentPayload canonicalises incoming keys before decoding so aliases never reach services.
func bindStudentPayload(c *gin.Context) (dto.StudentPayload, error) {
	var payload dto.StudentPayload
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxJSONBody))
	if err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read body")
	}
	normalized, err := dto.NormalizeStudentJSON(raw)
	if err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
	}
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
	}
	if payload.Gender != nil {
		g := dto.NormalizeGender(*payload.Gender)
		payload.Gender = &g
	}
	return payload, nil
}

func parseStudentFilter(c *gin.Context) models.StudentFilter {
	filter := models.StudentFilter{
		Search:       strings.TrimSpace(c.Query("search")),
		ClassID:      firstQuery(c, "classId", "class_id"),
		Status:       strings.ToLower(c.Query("status")),
		Gender:       c.Query("gender"),
		AcademicYear: firstQuery(c, "academicYear", "academic_year"),
		SortBy:       firstQuery(c, "sortBy", "sort"),
		SortOrder:    firstQuery(c, "sortOrder", "order"),
	}
	if filter.Gender != "" {
		filter.Gender = dto.NormalizeGender(filter.Gender)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return v
		}
	}
	return ""
}
