// Worker runs the background jobs: the expired refresh/blacklist sweep when SWEEP_SCHEDULE is set,
// and forwarding of auth events from Kafka to Loki when KAFKA_BROKERS and LOKI_URL are set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"pharma/backend/internal/config"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/metrics"
	rtservice "pharma/backend/internal/refreshtoken/service"
	"pharma/backend/internal/storage"
	"pharma/backend/internal/telemetry/loki"
	"pharma/backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel)
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := 0

	if cfg.SweepSchedule != "" {
		if cfg.DatabaseURL == "" {
			logger.Fatal().Msg("worker: SWEEP_SCHEDULE requires DATABASE_URL")
		}
		backend, err := storage.Open(ctx, cfg.DatabaseURL, cfg.StoreTimeoutDuration(), cfg.IsProduction())
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: open store")
		}
		defer backend.Close()
		store := rtservice.NewStore(backend.RefreshTokens, backend.Tx, cfg.RefreshTTL(), cfg.RefreshTokenBytes)
		c, err := worker.ScheduleSweep(ctx, cfg.SweepSchedule, store, nil)
		if err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("worker: invalid SWEEP_SCHEDULE")
		}
		defer c.Stop()
		jobs++
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		reader := worker.NewReader(brokers, cfg.AuthEventsTopic, cfg.KafkaGroupID)
		defer reader.Close()
		logger.Info().
			Str("topic", cfg.AuthEventsTopic).
			Str("group", cfg.KafkaGroupID).
			Str("loki", cfg.LokiURL).
			Msg("worker: forwarding auth events")
		go worker.Forward(ctx, reader, loki.NewClient(cfg.LokiURL, "pharma-auth-events"))
		jobs++
	}

	if jobs == 0 {
		logger.Fatal().Msg("worker: nothing to do; set SWEEP_SCHEDULE and/or KAFKA_BROKERS with LOKI_URL")
	}

	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")
}
