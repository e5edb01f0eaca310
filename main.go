package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"squad-match-service/config"
	"squad-match-service/handlers"
	"squad-match-service/logger"
	"squad-match-service/models"
	"squad-match-service/monitor"
	"squad-match-service/services"
	"squad-match-service/utils"
	"squad-match-service/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger.Init(cfg.App.Env)
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Log.Fatalw("failed to connect to database", "error", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Log.Fatalw("failed to migrate database", "error", err)
	}

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.RedisURL != "" {
		rn, err := services.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rn.Close()
		notifier = rn
	} else {
		logger.Log.Warn("⚠️  REDIS_URL not set, streams fall back to polling")
	}

	metrics := monitor.NewMetrics("squadmatch")
	mm := cfg.Matchmaking

	duelService := services.NewDuelService(db, metrics, notifier)
	squadService := services.NewSquadService(db, metrics, notifier, mm.LevelRange, mm.DefaultMaxSquadSize)
	botService := services.NewBotService(db, metrics, notifier, mm.BotUsernamePrefix, mm.BotPoolLimit)
	submissionService := services.NewSubmissionService(db, metrics, notifier)
	streamService := services.NewStreamService(db, metrics, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ProfileSync.BaseURL != "" {
		syncWorker := workers.NewProfileSyncWorker(db, metrics,
			cfg.ProfileSync.BaseURL, cfg.ProfileSync.Path, cfg.ProfileSync.Token, cfg.ProfileSync.Interval)
		syncWorker.Start(ctx)
	} else {
		logger.Log.Warn("⚠️  PROFILE_SYNC_URL not set, profile sync disabled")
	}

	sched, err := workers.NewScheduler()
	if err != nil {
		logger.Log.Fatalw("failed to create scheduler", "error", err)
	}
	if mm.QueueStaleAfter > 0 {
		if err := sched.Every(mm.QueueSweepInterval, "queue-sweep", workers.QueueSweepJob(duelService, mm.QueueStaleAfter)); err != nil {
			logger.Log.Fatalw("failed to schedule queue sweep", "error", err)
		}
	}
	if cfg.RosterEnabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			logger.Log.Fatalw("failed to initialize R2 client", "error", err)
		}
		roster := workers.NewBotRosterWorker(db, metrics, r2, cfg.R2.RosterKey, mm.BotUsernamePrefix)
		if err := sched.Every(cfg.R2.RosterInterval, "bot-roster", roster.Sync); err != nil {
			logger.Log.Fatalw("failed to schedule roster sync", "error", err)
		}
	}
	sched.Start()

	app := handlers.NewApp(cfg.App.AllowedOrigins)
	handlers.SetupMetricsRoute(app, metrics)
	handlers.SetupMatchmakingRoutes(app, handlers.Services{
		Duel:        duelService,
		Squad:       squadService,
		Bot:         botService,
		Submission:  submissionService,
		Stream:      streamService,
		JWTSecret:   cfg.JWTSecret,
		GatewayAuth: cfg.ServiceToken,
	})

	go func() {
		logger.Log.Infow("🚀 squad match service listening", "port", cfg.App.Port)
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			logger.Log.Errorw("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log.Errorw("server shutdown failed", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		logger.Log.Errorw("scheduler shutdown failed", "error", err)
	}
}
