package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-student-records/internal/models"
	appErrors "github.com/noah-isme/sma-student-records/pkg/errors"
	"github.com/noah-isme/sma-student-records/pkg/logger"
	"github.com/noah-isme/sma-student-records/pkg/response"
)

// TenantParam is the route parameter carrying the institution id.
const TenantParam = "instansiId"

// ContextTenantKey is the gin context key storing the authorised institution id.
const ContextTenantKey = logger.TenantIDKey

// TenantGuard rejects requests whose path institution differs from the caller's own.
// It must run after JWT. SUPERADMIN may address any institution.
func TenantGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		tenant := strings.TrimSpace(c.Param(TenantParam))
		if tenant == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "instansi id is required"))
			c.Abort()
			return
		}

		if claims.Role != models.RoleSuperAdmin && claims.InstansiID != tenant {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "access to this institution is not allowed"))
			c.Abort()
			return
		}

		c.Set(ContextTenantKey, tenant)
		c.Next()
	}
}

// TenantID returns the institution id authorised by TenantGuard.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantKey)
}
