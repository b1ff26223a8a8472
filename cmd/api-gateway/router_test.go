package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/dto"
	"github.com/noah-isme/sma-student-records/internal/handler"
	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/service"
	"github.com/noah-isme/sma-student-records/pkg/config"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type routeTokens map[string]*models.JWTClaims

func (r routeTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if c, ok := r[token]; ok {
		return c, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type routeStudents struct{ lastCall string }

func (s *routeStudents) List(context.Context, string, models.StudentFilter) ([]models.Student, *models.Pagination, bool, error) {
	s.lastCall = "list"
	return []models.Student{}, models.NewPagination(1, 20, 0), false, nil
}

func (s *routeStudents) Get(_ context.Context, _ string, id string) (*models.Student, bool, error) {
	s.lastCall = "get:" + id
	return &models.Student{ID: id}, false, nil
}

func (s *routeStudents) Create(context.Context, string, dto.StudentPayload) (*models.Student, error) {
	s.lastCall = "create"
	return &models.Student{}, nil
}

func (s *routeStudents) Update(_ context.Context, _ string, id string, _ dto.StudentPayload) (*models.Student, error) {
	s.lastCall = "update:" + id
	return &models.Student{ID: id}, nil
}

func (s *routeStudents) Remove(_ context.Context, _ string, id string) error {
	s.lastCall = "remove:" + id
	return nil
}

func (s *routeStudents) UpdateAcademicLevel(_ context.Context, _ string, id string, _ dto.AcademicLevelRequest) (*models.Student, error) {
	s.lastCall = "level:" + id
	return &models.Student{ID: id}, nil
}

type routeLifetime struct{ tenant string }

func (l *routeLifetime) LifetimeData(_ context.Context, nik, tenant string) (*models.LifetimeBundle, error) {
	l.tenant = tenant
	return &models.LifetimeBundle{}, nil
}

func testRouter(students *routeStudents, lifetime *routeLifetime) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1"}
	tokens := routeTokens{
		"admin-a":    {UserID: "u1", Role: models.RoleAdmin, InstansiID: "tenant-a"},
		"teacher-a":  {UserID: "u2", Role: models.RoleTeacher, InstansiID: "tenant-a"},
		"superadmin": {UserID: "u0", Role: models.RoleSuperAdmin},
	}
	return newRouter(cfg, zap.NewNop(), routerDeps{
		auth:      handler.NewAuthHandler(nil),
		students:  handler.NewStudentHandler(students, lifetime),
		transfer:  handler.NewStudentTransferHandler(nil, nil, 0),
		dashboard: handler.NewDashboardHandler(nil),
		system:    handler.NewMetricsHandler(service.NewMetricsService(), nil),
		tokens:    tokens,
		limiter:   middleware.NewTenantRateLimiter(0),
	})
}

func call(r http.Handler, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouterTenantBoundary(t *testing.T) {
	students := &routeStudents{}
	r := testRouter(students, &routeLifetime{})

	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/v1/instansi/tenant-a/students", ""))
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/v1/instansi/tenant-b/students", "admin-a"))
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/v1/instansi/tenant-b/students/s1", "admin-a"))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/instansi/tenant-a/students", "admin-a"))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/instansi/tenant-b/students", "superadmin"))
}

func TestRouterStudentRoutes(t *testing.T) {
	students := &routeStudents{}
	lifetime := &routeLifetime{}
	r := testRouter(students, lifetime)

	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/instansi/tenant-a/students/s9", "teacher-a"))
	assert.Equal(t, "get:s9", students.lastCall)

	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/instansi/tenant-a/students/nik/3201010101010001/lifetime", "teacher-a"))
	assert.Equal(t, "tenant-a", lifetime.tenant)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodDelete, "/api/v1/instansi/tenant-a/students/s9", "teacher-a"))
	assert.Equal(t, http.StatusOK, call(r, http.MethodDelete, "/api/v1/instansi/tenant-a/students/s9", "admin-a"))
	assert.Equal(t, "remove:s9", students.lastCall)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/v1/students/nik/3201010101010001/lifetime", "admin-a"))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/v1/students/nik/3201010101010001/lifetime", "superadmin"))
	assert.Equal(t, "", lifetime.tenant)
}

func TestRouterSystemRoutes(t *testing.T) {
	r := testRouter(&routeStudents{}, &routeLifetime{})
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/ready", ""))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/metrics", ""))
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/docs/doc.json", ""))
}
