package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/models"
)

// Scheduler dispatches runs for configurations whose interval elapsed. Run
// ids are derived from the schedule slot, so a tick retried after a crash or
// raced by another node dedupes in the store instead of double-running.
type Scheduler struct {
	dispatcher *Dispatcher
	source     ConfigSource
	store      RunStore
	tick       time.Duration
	log        zerolog.Logger
}

func NewScheduler(dispatcher *Dispatcher, source ConfigSource, store RunStore,
	tick time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		source:     source,
		store:      store,
		tick:       tick,
		log:        log,
	}
}

// Start runs the schedule loop until the context ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info().Dur("tick", s.tick).Msg("scheduler started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick walks the active scheduled configurations once.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, cfg := range s.source.List() {
		if !cfg.Active || cfg.ScheduleMinutes <= 0 {
			continue
		}
		if !s.due(ctx, cfg) {
			continue
		}

		req := RunRequest{
			RunID:   slotRunID(cfg.ID, cfg.ScheduleMinutes, now()),
			Trigger: models.TriggerScheduled,
		}
		res, err := s.dispatcher.RunExport(ctx, cfg.ID, req)
		if err != nil {
			s.log.Error().Err(err).Str("config_id", cfg.ID).Msg("scheduled dispatch failed")
			continue
		}
		if res.Cached || res.InProgress {
			continue
		}
		s.log.Info().Str("config_id", cfg.ID).Str("run_id", res.Run.RunID).Msg("scheduled run dispatched")
	}
}

// scheduleLookback bounds how many recent runs due inspects for a success.
const scheduleLookback = 20

// due reports whether the configuration's interval elapsed since its last
// succeeded run started. A live run blocks scheduling; failed runs do not
// push the next attempt out, so a config whose latest run failed is retried
// on the next slot. A config with no success yet is due immediately.
func (s *Scheduler) due(ctx context.Context, cfg *models.ExportConfig) bool {
	runs, err := s.store.ListByConfig(ctx, cfg.ID, scheduleLookback)
	if err != nil {
		s.log.Error().Err(err).Str("config_id", cfg.ID).Msg("schedule lookup failed")
		return false
	}
	if len(runs) == 0 {
		return true
	}
	if !runs[0].Terminal() {
		return false
	}
	interval := time.Duration(cfg.ScheduleMinutes) * time.Minute
	for _, r := range runs {
		if r.State == models.RunSucceeded {
			return now().Sub(r.StartedAt) >= interval
		}
	}
	return true
}

// slotRunID buckets time into schedule-sized slots so retries of the same
// slot reuse one run id.
func slotRunID(configID string, scheduleMinutes int, at time.Time) string {
	slot := at.Unix() / int64(scheduleMinutes*60)
	return fmt.Sprintf("sched-%s-%d", configID, slot)
}
