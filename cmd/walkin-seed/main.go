package main

import (
	"context"
	"flag"
	"time"

	"qms/walkin-service/internal/config"
	"qms/walkin-service/internal/seed"
	"qms/walkin-service/internal/storage"
	"qms/walkin-service/internal/telemetry"

	"github.com/rs/zerolog"
)

func main() {
	path := flag.String("file", "seed.yaml", "seed file with locations, desks and users")
	flag.Parse()

	cfg := config.Load()
	logger := telemetry.InitLogger("walkin-seed", cfg.Env, cfg.LogLevel)
	if err := run(cfg, logger, *path); err != nil {
		logger.Fatal().Err(err).Str("file", *path).Msg("seed failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger, path string) error {
	file, err := seed.Load(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	result, err := seed.NewSeeder(st, logger).Apply(ctx, file)
	if err != nil {
		return err
	}
	logger.Info().
		Int("locations", result.Locations).
		Int("desks", result.Desks).
		Int("users", result.Users).
		Msg("seed applied")
	return nil
}
