package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/api/handlers"
	"github.com/jobtrail/core/internal/api/middleware"
	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/ai"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/config"
	"github.com/jobtrail/core/internal/services"
	"gorm.io/gorm"
)

// SetupRouter wires every service into the HTTP API. The returned scheduler
// is not started; the caller decides whether background syncs run.
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *services.SyncScheduler, error) {
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	accountService := services.NewAccountService(db, cfg.GetEncryptionKey())

	fetcher := services.NewFetcher(db, accountService, services.NewIMAPSource(), cfg.FetchBatchSize, cfg.MaxEmailsPerSync)

	fast := local.NewFastClassifier(db)

	deep := ai.NewClient()
	if cfg.AIAPIKey != "" {
		if cfg.AIBaseURL != "" {
			deep.ConfigureWithBaseURL(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel, cfg.AIBaseURL)
		} else {
			deep.Configure(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel)
		}
		deep.SetContextSize(cfg.AIContextSize)
	}

	promptManager, err := ai.NewPromptManager(db, cfg.AIContextSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize prompt manager: %v", err)
	}

	breaker := classify.NewBreaker(cfg.BreakerMaxFailures, time.Duration(cfg.BreakerCooldownSeconds)*time.Second)
	router := classify.NewRouter(cfg.ApproveThreshold, cfg.ReviewThreshold, cfg.RejectThreshold)
	reviewService := services.NewReviewService(db, fast, cfg.ReviewRetentionDays)
	events := services.NewEventBus()

	orchestrator := services.NewSyncOrchestrator(
		db,
		accountService,
		fetcher,
		fast,
		deep,
		breaker,
		router,
		reviewService,
		events,
		cfg.ClassifyWorkers,
		promptManager.GetPrompt,
	)

	scheduler := services.NewSyncScheduler(orchestrator, reviewService,
		time.Duration(cfg.SyncIntervalMinutes)*time.Minute)

	apiKeyManager, err := middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize API key manager: %v", err)
	}

	accountHandler := handlers.NewAccountHandler(accountService, logService)
	syncHandler := handlers.NewSyncHandler(orchestrator, events)
	reviewHandler := handlers.NewReviewHandler(reviewService)
	classifyHandler := handlers.NewClassifyHandler(fast, promptManager, breaker)
	jobHandler := handlers.NewJobHandler(db, logService)
	logHandler := handlers.NewLogHandler(logService)

	r := gin.Default()

	// CORS 配置
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSOrigins == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSOrigins, ",")
	}
	r.Use(cors.New(corsConfig))

	// Health check, no auth required
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "jobtrail",
		})
	})

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.APIKeyMiddleware(apiKeyManager))
	apiGroup.Use(middleware.RequestLogMiddleware(logService))
	{
		accounts := apiGroup.Group("/accounts")
		{
			accounts.GET("", accountHandler.ListAccounts)
			accounts.POST("", accountHandler.CreateAccount)
			accounts.POST("/test", accountHandler.TestConnectionDirect)
			accounts.GET("/:id", accountHandler.GetAccount)
			accounts.PUT("/:id", accountHandler.UpdateAccount)
			accounts.DELETE("/:id", accountHandler.DeleteAccount)
			accounts.PUT("/:id/sync", accountHandler.SetSyncEnabled)
			accounts.POST("/:id/test", accountHandler.TestConnection)
		}

		sync := apiGroup.Group("/sync")
		{
			sync.POST("", syncHandler.StartSync)
			sync.POST("/classify-only", syncHandler.StartClassifyOnly)
			sync.POST("/cancel", syncHandler.CancelSync)
			sync.GET("/status", syncHandler.GetStatus)
			sync.GET("/history", syncHandler.GetHistory)
			sync.GET("/history/:id", syncHandler.GetRun)
			sync.GET("/events", syncHandler.StreamEvents)
		}

		review := apiGroup.Group("/review")
		{
			review.GET("", reviewHandler.GetPending)
			review.GET("/stats", reviewHandler.GetStats)
			review.POST("/bulk", reviewHandler.BulkVerdict)
			review.POST("/:id/job-related", reviewHandler.MarkJobRelated)
			review.POST("/:id/not-job", reviewHandler.ConfirmNotJob)
		}

		ml := apiGroup.Group("/ml")
		{
			ml.POST("/feedback", classifyHandler.SubmitFeedback)
			ml.POST("/retrain", classifyHandler.Retrain)
			ml.GET("/stats", classifyHandler.GetStats)
		}

		prompt := apiGroup.Group("/prompt")
		{
			prompt.GET("", classifyHandler.GetPrompt)
			prompt.POST("", classifyHandler.SetPrompt)
			prompt.DELETE("", classifyHandler.ResetPrompt)
			prompt.GET("/tokens", classifyHandler.GetTokens)
			prompt.POST("/tokens", classifyHandler.PreviewTokens)
		}

		breakerGroup := apiGroup.Group("/breaker")
		{
			breakerGroup.GET("", classifyHandler.GetBreaker)
			breakerGroup.POST("/reset", classifyHandler.ResetBreaker)
		}

		jobs := apiGroup.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/stats", jobHandler.GetJobStats)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.PUT("/:id", jobHandler.UpdateJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
		}

		logs := apiGroup.Group("/logs")
		{
			logs.GET("", logHandler.QueryLogs)
			logs.GET("/:id", logHandler.GetLog)
		}
	}

	return r, scheduler, nil
}
