package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Proctor tokens are stateless, so no database or Redis connection is needed.
func main() {
	var name string
	var ttl time.Duration
	flag.StringVar(&name, "name", "", "Proctor name shown in monitor logs")
	flag.DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	if name == "" || ttl <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: issue-token -name <proctor> [-ttl 12h]")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	auth := service.NewAuthService(cfg, nil, nil)
	token, err := auth.GenerateProctorToken(name, ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue proctor token")
	}

	log.Info().Str("proctor", name).Dur("ttl", ttl).Msg("Proctor token issued")
	fmt.Println(token)
}
