package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/service"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
)

type staticValidator map[string]*models.JWTClaims

func (s staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

var testTokens = staticValidator{
	"admin-a": {UserID: "u-1", Role: models.RoleAdmin, InstansiID: "tenant-a"},
	"teacher": {UserID: "u-2", Role: models.RoleTeacher, InstansiID: "tenant-a"},
	"root":    {UserID: "u-0", Role: models.RoleSuperAdmin},
}

func init() {
	gin.SetMode(gin.TestMode)
}

func tenantRouter() *gin.Engine {
	r := gin.New()
	group := r.Group("/api/v1/instansi/:instansiId", JWT(testTokens), TenantGuard(), AuditActor())
	group.GET("/students", func(c *gin.Context) {
		actor, _ := service.ActorFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"tenant": TenantID(c), "actor": actor.UserID})
	})
	group.DELETE("/students/:id", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTenantGuard(t *testing.T) {
	r := tenantRouter()

	rec := doRequest(r, http.MethodGet, "/api/v1/instansi/tenant-a/students", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(r, http.MethodGet, "/api/v1/instansi/tenant-a/students", "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(r, http.MethodGet, "/api/v1/instansi/tenant-b/students", "admin-a")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(r, http.MethodGet, "/api/v1/instansi/tenant-a/students", "admin-a")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tenant-a", body["tenant"])
	assert.Equal(t, "u-1", body["actor"])

	rec = doRequest(r, http.MethodGet, "/api/v1/instansi/tenant-b/students", "root")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	r := tenantRouter()

	rec := doRequest(r, http.MethodDelete, "/api/v1/instansi/tenant-a/students/s1", "teacher")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(r, http.MethodDelete, "/api/v1/instansi/tenant-a/students/s1", "admin-a")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(r, http.MethodDelete, "/api/v1/instansi/tenant-a/students/s1", "root")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTenantRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewTenantRateLimiter(2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("tenant-a"))
	assert.True(t, rl.Allow("tenant-a"))
	assert.False(t, rl.Allow("tenant-a"))
	assert.True(t, rl.Allow("tenant-b"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("tenant-a"))

	now = now.Add(2 * time.Hour)
	rl.Cleanup()
	assert.Empty(t, rl.limiters)

	unlimited := NewTenantRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("tenant-a"))
	}
}

func TestTenantRateLimiterMiddleware(t *testing.T) {
	rl := NewTenantRateLimiter(1)
	r := gin.New()
	r.POST("/api/v1/instansi/:instansiId/students/import/excel", JWT(testTokens), TenantGuard(), rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := doRequest(r, http.MethodPost, "/api/v1/instansi/tenant-a/students/import/excel", "admin-a")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(r, http.MethodPost, "/api/v1/instansi/tenant-a/students/import/excel", "admin-a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestResponseMeta(t *testing.T) {
	r := gin.New()
	var meta map[string]interface{}
	r.Use(WithResponseMeta())
	r.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	doRequest(r, http.MethodGet, "/", "")
	assert.Equal(t, true, meta[cacheHitKey])
	assert.Contains(t, meta, "processing_time_ms")
}
