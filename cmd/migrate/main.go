// migrate applies the embedded schema migrations; run with go run ./cmd/migrate -direction up.
package main

import (
	"flag"

	"pharma/backend/internal/config"
	"pharma/backend/internal/db/migrate"
	"pharma/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migrate")
	}
	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: read version")
	}
	logger.Info().Str("direction", *direction).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
