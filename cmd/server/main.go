package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend/internal/api/handlers"
	"backend/internal/config"
	"backend/internal/fetcher"
	"backend/internal/jobs"
	"backend/internal/lichess"
	"backend/internal/repository"
	"backend/internal/service"
	"backend/internal/snapshot"
	ws "backend/internal/websocket"
	"backend/internal/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Optional PostgreSQL archive
	var (
		postgresRepo *repository.PostgresRepository
		pool         *worker.Pool
	)
	if cfg.DatabaseEnabled() {
		db, err := initPostgres(cfg)
		if err != nil {
			logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		postgresRepo = repository.NewPostgresRepository(db)
		if err := postgresRepo.AutoMigrate(); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Info("Connected to PostgreSQL, archive enabled")

		pool = worker.NewPool(8, 1000, postgresRepo, logger)
		pool.Start()
	}

	// Optional Redis cache
	var redisRepo *repository.RedisRepository
	if cfg.RedisEnabled() {
		redisClient, err := initRedis(cfg)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisRepo = repository.NewRedisRepository(redisClient)
		logger.Info("Connected to Redis, cache enabled")
	}

	client := lichess.NewClient(cfg.Team.LichessURL, cfg.Team.UserAgent, logger)
	coord := fetcher.New(client.PlayerFetchFunc(cfg.Fetch.FetchHistory), fetcher.Config{
		MaxWorkers:  cfg.Fetch.MaxWorkers,
		Attempts:    cfg.Fetch.RetryAttempts,
		BaseTimeout: cfg.Fetch.RequestTimeout,
		Backoff:     cfg.Fetch.RetryBackoff,
	}, logger)

	holder := snapshot.NewHolder()
	rankingService := service.NewRankingService(client, coord, holder, postgresRepo, redisRepo, pool, cfg, logger)

	// Initial load: a missing roster means there is nothing to serve
	loaded, err := rankingService.Refresh(context.Background())
	if err != nil {
		logger.Fatalf("Initial snapshot load failed: %v", err)
	}
	logger.WithField("players", loaded).Info("Initial snapshot loaded")

	// Background refresher
	refresher := jobs.NewRefresher(rankingService, cfg.Snapshot.RefreshInterval, logger)
	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	defer refreshCancel()
	if err := refresher.Start(refreshCtx); err != nil {
		logger.Warnf("Failed to start refresher: %v", err)
	}

	// WebSocket hub broadcasting snapshot-version heartbeats
	hub := ws.NewHub(rankingService.SnapshotVersion, logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	playerHandler := handlers.NewPlayerHandler(rankingService, logger)

	app := fiber.New(fiber.Config{
		AppName:      "Xadrez Jovem ES Ranking",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Routes
	app.Get("/players.json", playerHandler.PlayersJSON)

	api := app.Group("/api")
	api.Get("/players", playerHandler.APIPlayers)
	api.Get("/players/:username", playerHandler.SearchPlayer)
	api.Get("/stats", playerHandler.Stats)
	api.Get("/health", playerHandler.HealthCheck)

	app.Post("/admin/refresh", playerHandler.AdminRefresh)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", fiberws.New(func(c *fiberws.Conn) {
		ws.ServeWS(hub, c)
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Xadrez Jovem ES Ranking API",
			"endpoints": []string{
				"GET /players.json",
				"GET /api/players",
				"GET /api/players/:username",
				"GET /api/stats",
				"GET /api/health",
				"POST /admin/refresh",
				"WS /ws",
			},
			"websocket_clients": hub.ClientCount(),
		})
	})

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down server...")

		refresher.Stop()
		hubCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Errorf("Server forced to shutdown: %v", err)
		}

		if pool != nil {
			if err := pool.Shutdown(30 * time.Second); err != nil {
				logger.Errorf("Worker pool shutdown error: %v", err)
			}
		}
		if postgresRepo != nil {
			if err := postgresRepo.Close(); err != nil {
				logger.Errorf("Error closing PostgreSQL: %v", err)
			}
		}
		if redisRepo != nil {
			if err := redisRepo.Close(); err != nil {
				logger.Errorf("Error closing Redis: %v", err)
			}
		}

		logger.Info("Server shutdown complete")
	}()

	logger.WithField("port", cfg.Server.Port).Info("Server starting")
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// initPostgres initializes the PostgreSQL connection with pooling sized for
// the archive workers
func initPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(15)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// initRedis initializes the Redis connection
func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   "Request failed",
		"message": err.Error(),
	})
}
