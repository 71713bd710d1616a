package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/metrics"
	"sheetbridge/internal/models"
)

// stuckRun is the run error recorded when the sweeper fails a run that
// stopped reporting progress.
const stuckRun = "StuckRun"

// Sweeper fails live runs that exceeded the staleness threshold, usually
// left behind by a crashed process. Readers treat such runs as stale before
// the sweeper gets to them; the sweeper makes the failure durable.
type Sweeper struct {
	store     RunStore
	bus       *eventbus.Bus
	threshold time.Duration
	tick      time.Duration
	log       zerolog.Logger
}

func NewSweeper(store RunStore, bus *eventbus.Bus, threshold, tick time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		bus:       bus,
		threshold: threshold,
		tick:      tick,
		log:       log,
	}
}

// Start runs the sweep loop until the context ends.
func (s *Sweeper) Start(ctx context.Context) error {
	s.log.Info().Dur("threshold", s.threshold).Dur("tick", s.tick).Msg("sweeper started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				s.log.Warn().Int("failed_runs", n).Msg("stuck runs swept")
			}
		}
	}
}

// Sweep fails every live run older than the threshold and returns how many
// it touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	live, err := s.store.ListLive(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, run := range live {
		if !run.Stale(s.threshold, now()) {
			continue
		}
		endedAt := now()
		run.State = models.RunFailed
		run.EndedAt = &endedAt
		run.Error = stuckRun
		if err := s.store.Update(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", run.RunID).Msg("sweep update failed")
			continue
		}
		metrics.Runs.WithLabelValues(string(models.RunFailed)).Inc()
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRunFinished, ConfigID: run.ConfigID, RunID: run.RunID,
			State: models.RunFailed, Timestamp: endedAt,
		})
		s.log.Warn().Str("run_id", run.RunID).Str("config_id", run.ConfigID).
			Time("started_at", run.StartedAt).Msg("run marked stuck")
		swept++
	}
	return swept, nil
}
