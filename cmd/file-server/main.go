package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/file-manager-api/api/swagger"
	"github.com/noah-isme/file-manager-api/internal/handler"
	"github.com/noah-isme/file-manager-api/internal/middleware"
	"github.com/noah-isme/file-manager-api/internal/models"
	"github.com/noah-isme/file-manager-api/internal/repository"
	"github.com/noah-isme/file-manager-api/internal/service"
	"github.com/noah-isme/file-manager-api/pkg/cache"
	"github.com/noah-isme/file-manager-api/pkg/config"
	"github.com/noah-isme/file-manager-api/pkg/database"
	"github.com/noah-isme/file-manager-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/file-manager-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/file-manager-api/pkg/middleware/requestid"
	"github.com/noah-isme/file-manager-api/pkg/storage"
)

// @title File Manager API
// @version 1.0.0
// @description Authenticated file storage with catalog/storage reconciliation
// @BasePath /
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Storage.BaseDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare storage directory", "error", err)
	}
	logr.Sugar().Infow("storage directory ready", "path", store.Path())

	// The listing cache is optional: the service degrades to direct
	// reads when Redis is unreachable.
	var cacheRepo service.CacheRepository
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, listing cache disabled", zap.Error(err))
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Files.ListCacheTTL, logr, cfg.Files.ListCacheEnabled && cacheRepo != nil)

	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)

	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	fileSvc := service.NewFileService(fileRepo, store, userRepo, cacheSvc, metricsSvc, logr, service.FileServiceConfig{
		MaxUploadBytes:      cfg.Files.MaxUploadBytes,
		AdminActivityWindow: cfg.Files.AdminActivityWindow,
		ListCacheTTL:        cfg.Files.ListCacheTTL,
	})
	archiveSvc := service.NewArchiveService(fileSvc, store, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	fileHandler := handler.NewFileHandler(fileSvc, archiveSvc)

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
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	files := api.Group("/files", middleware.JWT(authSvc))
	files.GET("", fileHandler.List)
	files.POST("/upload", fileHandler.Upload)
	files.GET("/download/:id", fileHandler.Download)
	files.GET("/download-multiple", fileHandler.DownloadMultiple)
	files.POST("/register", fileHandler.Register)

	admin := files.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/register-all", fileHandler.RegisterAll)
	admin.POST("/admin/sync", fileHandler.Sync)
	admin.POST("/admin/cleanup", fileHandler.Cleanup)
	admin.POST("/admin/import", fileHandler.Import)
	admin.GET("/admin/hashes", fileHandler.Hashes)
	admin.GET("/admin/stats", fileHandler.Stats)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
