package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/msms-dev/msms-api/api/swagger"
	"github.com/msms-dev/msms-api/internal/handler"
	"github.com/msms-dev/msms-api/internal/middleware"
	"github.com/msms-dev/msms-api/internal/models"
	"github.com/msms-dev/msms-api/internal/repository"
	"github.com/msms-dev/msms-api/internal/service"
	"github.com/msms-dev/msms-api/pkg/cache"
	"github.com/msms-dev/msms-api/pkg/config"
	"github.com/msms-dev/msms-api/pkg/database"
	"github.com/msms-dev/msms-api/pkg/logger"
	corsmiddleware "github.com/msms-dev/msms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/msms-dev/msms-api/pkg/middleware/requestid"
)

// @title Music School Management API
// @version 1.0.0
// @description Booking administration for music lessons: school terms, lesson requests, bookings and derived invoices
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, term calendar cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	termRepo := repository.NewTermRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	calendarCache := service.NewCacheService(redisClient, cfg.Calendar.CacheTTL, logr).WithMetrics(metricsSvc)
	authSvc := service.NewAuthService(userRepo, validate, logr, cfg.JWT)
	userSvc := service.NewUserService(userRepo, validate, logr)
	termSvc := service.NewTermService(termRepo, lessonRepo, calendarCache, db, validate, logr)
	scheduler := service.NewLessonScheduler(cfg.Scheduler, logr)
	invoiceSvc := service.NewInvoiceService(invoiceRepo, userRepo, cfg.Billing, logr)
	bookingSvc := service.NewBookingService(bookingRepo, lessonRepo, termRepo, userRepo, invoiceSvc, requestRepo, scheduler, db, validate, logr).WithMetrics(metricsSvc)
	requestSvc := service.NewRequestService(requestRepo, userRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	termHandler := handler.NewTermHandler(termSvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", userHandler.Register)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.POST("/auth/change-password", authHandler.ChangePassword)

	authed.GET("/users", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), userHandler.List)
	authed.GET("/users/children", middleware.RequireRoles(models.RoleParent), userHandler.Children)
	authed.POST("/users/children", middleware.RequireRoles(models.RoleParent), userHandler.RegisterChild)
	authed.GET("/users/:id", middleware.RBAC("ADMIN", "TEACHER", "SELF"), userHandler.Get)
	authed.POST("/users", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)

	authed.GET("/terms", termHandler.List)
	authed.GET("/terms/containing", termHandler.FindContaining)
	authed.GET("/terms/:id", termHandler.Get)
	authed.POST("/terms", middleware.RequireRoles(models.RoleAdmin), termHandler.Create)
	authed.PUT("/terms/:id", middleware.RequireRoles(models.RoleAdmin), termHandler.Update)
	authed.DELETE("/terms/:id", middleware.RequireRoles(models.RoleAdmin), termHandler.Delete)

	requesters := middleware.RequireRoles(models.RoleAdmin, models.RoleStudent, models.RoleParent)
	authed.GET("/requests", requesters, requestHandler.List)
	authed.GET("/requests/:id", requesters, requestHandler.Get)
	authed.POST("/requests", requesters, requestHandler.Create)
	authed.PUT("/requests/:id", requesters, requestHandler.Update)
	authed.DELETE("/requests/:id", requesters, requestHandler.Delete)
	authed.POST("/requests/:id/fulfill", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Fulfill)

	authed.GET("/bookings", bookingHandler.List)
	authed.GET("/bookings/:id", bookingHandler.Get)
	authed.POST("/bookings", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Create)
	authed.PUT("/bookings/:id", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Update)
	authed.DELETE("/bookings/:id", middleware.RequireRoles(models.RoleAdmin), bookingHandler.Delete)

	authed.GET("/invoices", invoiceHandler.List)
	authed.GET("/invoices/:urn", invoiceHandler.Get)
	authed.POST("/invoices/:urn/pay", middleware.RequireRoles(models.RoleAdmin), invoiceHandler.MarkPaid)
	authed.GET("/invoices/statement/:studentNum", invoiceHandler.Statement)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
