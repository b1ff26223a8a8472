package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/service"
)

type fakeDashboardSrv struct {
	tenant string
	hit    bool
}

func (f *fakeDashboardSrv) Summary(_ context.Context, tenant string) (*service.DashboardSummary, bool, error) {
	f.tenant = tenant
	return &service.DashboardSummary{
		Students:    models.StudentStats{Total: 3, Active: 2, Inactive: 1},
		GeneratedAt: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
	}, f.hit, nil
}

func TestDashboardHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeDashboardSrv{hit: true}
	h := NewDashboardHandler(srv)
	r := gin.New()
	r.GET("/instansi/:instansiId/dashboard", middleware.WithResponseMeta(), withTenant("tenant-a"), h.Summary)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/instansi/tenant-a/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", srv.tenant)

	var env struct {
		Data service.DashboardSummary `json:"data"`
		Meta map[string]interface{}   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 3, env.Data.Students.Total)
	assert.Equal(t, true, env.Meta["cache_hit"])
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
	})
	r := gin.New()
	r.GET("/ready", healthy.Ready)
	r.GET("/health", healthy.Health)
	r.GET("/metrics", healthy.Prometheus)

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)

	failing := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})
	r2 := gin.New()
	r2.GET("/ready", failing.Ready)
	rec := serve(r2, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
	assert.Equal(t, "connection refused", body.Checks["cache"])
}
