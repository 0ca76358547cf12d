// Package worker holds the background jobs run by cmd/worker: the expired-token sweep and the
// auth event forwarder.
package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pharma/backend/internal/logger"
	"pharma/backend/internal/metrics"
	rtservice "pharma/backend/internal/refreshtoken/service"
)

// Sweeper is implemented by refreshtoken/service.Store.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (rtservice.SweepResult, error)
}

// RunSweep deletes expired refresh and blacklist rows once and counts them.
func RunSweep(ctx context.Context, s Sweeper, now time.Time) (rtservice.SweepResult, error) {
	res, err := s.Sweep(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("worker: sweep failed")
		return res, err
	}
	metrics.SweptRows.WithLabelValues("refresh_tokens").Add(float64(res.RefreshTokens))
	metrics.SweptRows.WithLabelValues("blacklist_tokens").Add(float64(res.BlacklistTokens))
	logger.Info().
		Int64("refresh_tokens", res.RefreshTokens).
		Int64("blacklist_tokens", res.BlacklistTokens).
		Msg("worker: sweep done")
	return res, nil
}

// ScheduleSweep starts a cron scheduler that runs RunSweep on spec (standard five-field syntax).
// The caller stops the returned scheduler.
func ScheduleSweep(ctx context.Context, spec string, s Sweeper, now func() time.Time) (*cron.Cron, error) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_, _ = RunSweep(ctx, s, now())
	}); err != nil {
		return nil, err
	}
	c.Start()
	logger.Info().Str("schedule", spec).Msg("worker: sweep scheduled")
	return c, nil
}
