package main

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-student-records/api/swagger"
	"github.com/noah-isme/sma-student-records/internal/handler"
	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/models"
	"github.com/noah-isme/sma-student-records/internal/service"
	"github.com/noah-isme/sma-student-records/pkg/config"
	"github.com/noah-isme/sma-student-records/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-student-records/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-student-records/pkg/middleware/requestid"
)

type routerDeps struct {
	auth      *handler.AuthHandler
	students  *handler.StudentHandler
	transfer  *handler.StudentTransferHandler
	dashboard *handler.DashboardHandler
	system    *handler.MetricsHandler
	tokens    middleware.TokenValidator
	limiter   *middleware.TenantRateLimiter
	metrics   *service.MetricsService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.system.Health)
	r.GET("/ready", deps.system.Ready)
	r.GET("/metrics", deps.system.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := strings.TrimRight(cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix, middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", deps.auth.Login)
	auth.GET("/me", middleware.JWT(deps.tokens), deps.auth.Me)

	authenticated := api.Group("", middleware.JWT(deps.tokens), middleware.AuditActor())
	authenticated.GET("/students/nik/:nik/lifetime", middleware.RequireRoles(models.RoleSuperAdmin), deps.students.LifetimeGlobal)

	tenant := authenticated.Group("/instansi/:"+middleware.TenantParam, middleware.TenantGuard())
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleOperator)

	students := tenant.Group("/students")
	students.GET("", deps.students.List)
	students.POST("", writers, deps.students.Create)
	students.POST("/import/excel", writers, deps.limiter.Middleware(), deps.transfer.Import)
	students.GET("/export/:format", deps.transfer.Export)
	students.GET("/nik/:nik/lifetime", deps.students.Lifetime)
	students.GET("/:id", deps.students.Get)
	students.PATCH("/:id", writers, deps.students.Update)
	students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), deps.students.Delete)
	students.PATCH("/:id/academic-level", writers, deps.students.UpdateAcademicLevel)

	tenant.GET("/dashboard", deps.dashboard.Summary)

	return r
}
