package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/snapshot"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec, err := snapshot.NewCodec(cfg.ProgressSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid progress secret")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	m := metrics.NewDefault()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb, studentRepo)
	studentService := service.NewStudentService(studentRepo, cfg.BcryptCost)
	catalogService := service.NewCatalogService(examRepo, questionRepo, rdb, cfg.CatalogCacheTTL, log)
	progressService := service.NewProgressService(progressRepo, rdb, cfg.ProgressRetention, log)
	submissionService := service.NewSubmissionService(submissionRepo)
	monitorService := service.NewMonitorService(violationRepo, submissionRepo, rdb)

	sessions := service.NewSessionManager(
		catalogService,
		progressService,
		submissionService,
		codec,
		service.NewRedisActiveLock(rdb),
		service.NewRedisSessionRelay(rdb),
		m,
		service.SessionOptionsFromConfig(cfg),
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService, studentService),
		StudentPortal: handler.NewStudentPortalHandler(catalogService, submissionService),
		WS:            handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(catalogService, monitorService, log),
		System:        handler.NewSystemHandler(rdb, sessions, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	progressWorker := worker.NewProgressWorker(progressRepo, rdb, m, log)
	violationWorker := worker.NewViolationWorker(violationRepo, rdb, m, log)

	workers.Add(2)
	go func() { defer workers.Done(); progressWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); violationWorker.Start(workerCtx) }()

	reaper := worker.NewProgressReaper(progressRepo, cfg.ProgressRetention, cfg.ProgressReaperSchedule, m, log)
	if err := reaper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule progress reaper")
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all active exams into Redis BEFORE accepting traffic.
	if err := catalogService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(router.Deps{
		Auth:        authService,
		RateCounter: middleware.NewRedisCounter(rdb),
		Log:         log,
	}, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests. Hijacked websockets are not tracked
	// by the server, so live sessions are closed separately.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Abandon live sessions so their final progress is queued.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session shutdown incomplete")
	}

	// 3. Stop the reaper, then let the workers drain their queues.
	reaper.Stop(shutdownCtx)
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
