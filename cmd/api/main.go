package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/agent"
	"github.com/copysentry/backend/internal/api/handlers"
	"github.com/copysentry/backend/internal/cache/redis"
	"github.com/copysentry/backend/internal/capture"
	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/events"
	"github.com/copysentry/backend/internal/fetch"
	"github.com/copysentry/backend/internal/fingerprint"
	"github.com/copysentry/backend/internal/match"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/internal/middleware/ratelimit"
	"github.com/copysentry/backend/internal/notice"
	"github.com/copysentry/backend/internal/notify"
	"github.com/copysentry/backend/internal/search"
	"github.com/copysentry/backend/internal/semantic"
	"github.com/copysentry/backend/internal/storage/object"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/config"
	appLogger "github.com/copysentry/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CopySentry API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	objects, err := object.NewStore(cfg.MinIO)
	if err != nil {
		appLogger.Fatal("Failed to create object store", zap.Error(err))
	}
	if err := objects.EnsureBucket(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure evidence bucket", zap.Error(err))
	}

	// The redis cache only saves refetches; the server runs without it.
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without signature cache", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	engine := fingerprint.NewEngine(cfg.Fingerprint)
	fetcher := fetch.NewFetcher(cfg.Fetch)
	provider := search.NewProvider(cfg.Search)

	worthyTier, ok := domain.ParseTier(cfg.Notice.WorthyTier)
	if !ok {
		appLogger.Fatal("Invalid notice-worthy tier", zap.String("tier", cfg.Notice.WorthyTier))
	}

	var signatureCache match.SignatureCache
	var suppression agent.SuppressionCache
	var signatureFlusher handlers.SignatureFlusher
	if redisClient != nil {
		signatureCache = redisClient
		suppression = redisClient
		signatureFlusher = redisClient
	}

	var scorer match.SemanticScorer
	if s := semantic.NewScorer(cfg.Semantic); s != nil {
		scorer = s
		appLogger.Info("Semantic scoring enabled", zap.String("model", cfg.Semantic.EmbeddingModel))
	}

	pipeline := match.NewPipeline(engine, fetcher, sqliteClient, signatureCache, scorer, match.Config{
		Workers:          cfg.Match.Workers,
		CacheTTL:         time.Duration(cfg.Match.FetchTTLMin) * time.Minute,
		NoticeWorthyTier: worthyTier,
		HostDelay:        time.Duration(cfg.Fetch.HostDelayMS) * time.Millisecond,
	})

	captureService := capture.NewService(cfg.Capture, objects, sqliteClient)
	dispatcher := notify.NewDispatcher(cfg.Notify)
	lifecycle := notice.NewLifecycle(sqliteClient, dispatcher)

	hub := events.NewHub()

	scheduler := agent.NewScheduler(sqliteClient, hub, agent.Config{
		Workers:         cfg.Scheduler.Workers,
		MaxAttempts:     cfg.Scheduler.MaxAttempts,
		BaseDelay:       cfg.Scheduler.BaseDelay(),
		MaxDelay:        cfg.Scheduler.MaxDelay(),
		RunTimeout:      cfg.Scheduler.RunTimeout(),
		DuplicatePolicy: agent.DuplicatePolicy(cfg.Scheduler.DuplicatePolicy),
		Tick:            time.Duration(cfg.Scheduler.TickSec) * time.Second,
	})

	agentHandlers := agent.NewHandlers(sqliteClient, provider, pipeline, captureService, lifecycle,
		suppression, nil, hub, agent.HandlersConfig{WorthyTier: worthyTier})

	for _, entry := range agentHandlers.Cadences(
		time.Duration(cfg.Scheduler.CrawlCadenceMin)*time.Minute,
		time.Duration(cfg.Scheduler.MatchCadenceMin)*time.Minute,
		time.Duration(cfg.Scheduler.EvidenceCadenceMin)*time.Minute,
		time.Duration(cfg.Scheduler.NoticeCadenceMin)*time.Minute,
	) {
		scheduler.Register(entry)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	contentHandler := handlers.NewContentHandler(sqliteClient, engine, objects)
	scanHandler := handlers.NewScanHandler(scheduler, signatureFlusher)
	matchHandler := handlers.NewMatchHandler(sqliteClient, objects)
	noticeHandler := handlers.NewNoticeHandler(sqliteClient, lifecycle, hub)
	runsHandler := handlers.NewRunsHandler(sqliteClient)
	eventsHandler := handlers.NewEventsHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/contents", contentHandler.RegisterContent)
	api.Get("/contents", contentHandler.ListContent)
	api.Get("/contents/:id", contentHandler.GetContent)
	api.Delete("/contents/:id", contentHandler.DeleteContent)
	api.Post("/contents/:id/scan", scanHandler.TriggerScan)
	api.Get("/contents/:id/matches", matchHandler.ListMatches)

	api.Get("/matches/:id", matchHandler.GetMatch)
	api.Get("/matches/:id/evidence", matchHandler.ListEvidence)
	api.Get("/evidence/:evidenceID/download", matchHandler.DownloadEvidence)

	api.Get("/notices", noticeHandler.ListNotices)
	api.Get("/notices/:id", noticeHandler.GetNotice)
	api.Patch("/notices/:id", noticeHandler.UpdateDraft)
	api.Post("/notices/:id/submit", noticeHandler.Submit)
	api.Post("/notices/:id/approve", noticeHandler.Approve)
	api.Post("/notices/:id/reject", noticeHandler.Reject)
	api.Post("/notices/:id/dispatch", noticeHandler.Dispatch)
	api.Post("/notices/:id/response", noticeHandler.RecordResponse)
	api.Post("/notices/:id/resolve", noticeHandler.Resolve)

	api.Get("/runs", runsHandler.ListRuns)
	api.Get("/runs/:id", runsHandler.GetRun)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(eventsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	scheduler.Drain()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
