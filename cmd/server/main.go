package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/client"
	"github.com/draftforge/api/internal/config"
	"github.com/draftforge/api/internal/handler"
	"github.com/draftforge/api/internal/middleware"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/orchestrator"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/internal/worker"
	ws "github.com/draftforge/api/internal/websocket"
	"github.com/draftforge/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis not available: %v", err)
	}

	validate := validator.New()

	sessions := store.NewRedisSessions(redisClient)
	artifacts := store.NewRedisArtifacts(redisClient)
	jobQueue := queue.New(redisClient, queue.Retention{
		CompletedCount: cfg.Queue.CompletedRetention,
		CompletedAge:   cfg.Queue.CompletedAge,
		FailedAge:      cfg.Queue.FailedAge,
	})
	queueOpts := queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.BackoffBase,
	}

	authMiddleware := middleware.NewAuthMiddleware(&cfg.JWT)
	rateLimiter := middleware.NewRateLimiter(redisClient)
	hub := ws.NewHub(authMiddleware.VerifyWSToken)

	oracle := client.NewOracleClient(&cfg.Oracle)
	pipeline := orchestrator.New(sessions, artifacts, jobQueue, hub, queueOpts)

	// Worker pools, one per queue.
	pools := []*worker.Pool{
		worker.NewPool(model.QueueSourceIngestion, jobQueue, cfg.Workers.SourceIngestion,
			worker.NewSourceWorker(sessions, hub), hub),
		worker.NewPool(model.QueuePlanGeneration, jobQueue, cfg.Workers.PlanGeneration,
			worker.NewPlanWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueOutlineGeneration, jobQueue, cfg.Workers.OutlineGeneration,
			worker.NewOutlineWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueContentGeneration, jobQueue, cfg.Workers.ContentGeneration,
			worker.NewContentWorker(sessions, artifacts, jobQueue, oracle, hub, queueOpts), hub),
		worker.NewPool(model.QueueCriticReview, jobQueue, cfg.Workers.CriticReview,
			worker.NewCriticWorker(sessions, artifacts, oracle, hub), hub),
	}

	var workers sync.WaitGroup
	for _, pool := range pools {
		workers.Add(1)
		go func(p *worker.Pool) {
			defer workers.Done()
			p.Run(ctx)
		}(pool)
	}

	sessionHandler := handler.NewSessionHandler(pipeline, sessions, validate)
	generationHandler := handler.NewGenerationHandler(pipeline, artifacts, jobQueue, validate)
	wsHandler := handler.NewWSHandler(authMiddleware)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	api.Post("/ws-token", wsHandler.Token)

	sessionsGroup := api.Group("/sessions")
	sessionsGroup.Post("/", sessionHandler.Create)
	sessionsGroup.Get("/:id", sessionHandler.Get)
	sessionsGroup.Put("/:id", sessionHandler.Update)
	sessionsGroup.Post("/:id/advance", sessionHandler.Advance)
	sessionsGroup.Post("/:id/back", sessionHandler.Back)
	sessionsGroup.Post("/:id/sources", rateLimiter.SourceLimit(cfg.RateLimit.SourcesPerHour), sessionHandler.AddSource)
	sessionsGroup.Post("/:id/generate/:type", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerMin), generationHandler.Start)
	sessionsGroup.Post("/:id/artifacts/:artifactId/approve", generationHandler.Approve)
	sessionsGroup.Get("/:id/artifacts/:type/latest", generationHandler.Latest)

	api.Get("/artifacts/:id", generationHandler.Get)
	api.Get("/queues/:queue/jobs/:jobId", generationHandler.JobStatus)
	api.Get("/queues/:queue/dead", generationHandler.DeadLetters)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	// Graceful shutdown: stop accepting requests, then drain the pools.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
		cancel()
	}()

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	workers.Wait()
	log.Println("Server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return response.Error(c, code, response.CodeServiceError, err.Error(), nil)
}
