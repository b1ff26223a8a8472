package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-student-records/internal/service"
)

// AuditActor stores the authenticated caller on the request context so services can attribute
// the audit entries they write. Requests without claims pass through untouched.
func AuditActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := Claims(c); claims != nil {
			ctx := service.WithActor(c.Request.Context(), service.Actor{
				UserID:    claims.UserID,
				IPAddress: c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
			})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
