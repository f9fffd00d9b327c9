package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func main() {
	var file string
	var warm bool
	flag.StringVar(&file, "file", "", "Path to the exam JSON file")
	flag.BoolVar(&warm, "warm", true, "Load the imported exam into the Redis cache")
	flag.Parse()

	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: import-exam -file exam.json [-warm=false]")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read exam file")
	}

	var req model.ImportExamRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Fatal().Err(err).Msg("Exam file is not valid JSON")
	}
	if fields := validator.Struct(req); fields != nil {
		for field, msg := range fields {
			fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	exam, questions, err := req.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid exam")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examRepo := repository.NewExamRepository(pool)
	catalog := service.NewCatalogService(examRepo, repository.NewQuestionRepository(pool), rdb, cfg.CatalogCacheTTL, log)

	if err := examRepo.Import(ctx, exam, questions); err != nil {
		log.Fatal().Err(err).Msg("Failed to import exam")
	}

	// Drop stale cache entries so running servers pick up the new paper.
	if err := catalog.Invalidate(ctx, exam.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate exam cache")
	}
	if warm && exam.IsActive {
		if err := catalog.WarmExamCache(ctx, exam); err != nil {
			log.Warn().Err(err).Msg("Failed to warm exam cache")
		}
	}

	fmt.Printf("Imported exam '%s' (%s) with %d questions, active=%t\n", exam.Title, exam.ID, len(questions), exam.IsActive)
}
