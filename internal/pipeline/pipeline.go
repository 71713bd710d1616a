package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sheetbridge/internal/models"
)

// Stats counts one component's upstream usage during a run.
type Stats struct {
	Calls    int
	Duration time.Duration
}

// Fetcher produces the primary record stream for one dataset.
type Fetcher interface {
	Fetch(ctx context.Context, filters map[string]any, opts map[string]string) ([]Record, error)
	Stats() Stats
}

// Enricher augments a record set in place. It must never overwrite an
// existing non-null value.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, recs []Record) error
	Stats() Stats
}

// Transformer maps records to ordered output rows. It never fails on user
// data; malformed values are coerced.
type Transformer interface {
	Transform(recs []Record) (headers []string, rows [][]string)
}

// Result is the output of one pipeline execution.
type Result struct {
	Headers    []string
	Rows       [][]string
	Stats      models.RunStats
	SoftErrors []models.SoftError
}

// Orchestrator runs the three phases of one export: FETCH, ENRICH, TRANSFORM.
// Each phase reads only the previous phase's output.
type Orchestrator struct {
	fetcher     Fetcher
	enrichers   []Enricher
	transformer Transformer
	filters     map[string]any
	opts        map[string]string
	log         zerolog.Logger
}

func NewOrchestrator(f Fetcher, enrichers []Enricher, t Transformer,
	filters map[string]any, opts map[string]string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:     f,
		enrichers:   enrichers,
		transformer: t,
		filters:     filters,
		opts:        opts,
		log:         log,
	}
}

// Execute runs the pipeline. A fetch failure fails the run; an enricher
// failure is recorded as a soft error and the next enricher proceeds with
// the records unchanged.
func (o *Orchestrator) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	// FETCH
	fetchStart := time.Now()
	recs, err := o.fetcher.Fetch(ctx, o.filters, o.opts)
	res.Stats.Phases = append(res.Stats.Phases, models.PhaseStats{
		Phase: "fetch", Records: len(recs), Duration: time.Since(fetchStart),
	})
	if err != nil {
		res.Stats.WallTime = time.Since(start)
		return res, fmt.Errorf("fetch: %w", err)
	}
	o.log.Debug().Int("records", len(recs)).Msg("fetch phase done")

	// ENRICH (skipped entirely on an empty fetch)
	if len(recs) > 0 {
		enrichStart := time.Now()
		for _, e := range o.enrichers {
			if err := ctx.Err(); err != nil {
				res.Stats.WallTime = time.Since(start)
				return res, err
			}
			if err := e.Enrich(ctx, recs); err != nil {
				if ctx.Err() != nil {
					res.Stats.WallTime = time.Since(start)
					return res, ctx.Err()
				}
				o.log.Warn().Str("enricher", e.Name()).Err(err).Msg("enricher failed, continuing")
				res.SoftErrors = append(res.SoftErrors, models.SoftError{
					Source:  e.Name(),
					Message: err.Error(),
					At:      time.Now(),
				})
			}
			st := e.Stats()
			res.Stats.Enrichers = append(res.Stats.Enrichers, models.EnricherStats{
				Name: e.Name(), Calls: st.Calls, Duration: st.Duration,
			})
		}
		res.Stats.Phases = append(res.Stats.Phases, models.PhaseStats{
			Phase: "enrich", Records: len(recs), Duration: time.Since(enrichStart),
		})
	}

	if err := ctx.Err(); err != nil {
		res.Stats.WallTime = time.Since(start)
		return res, err
	}

	// TRANSFORM
	transformStart := time.Now()
	res.Headers, res.Rows = o.transformer.Transform(recs)
	res.Stats.Phases = append(res.Stats.Phases, models.PhaseStats{
		Phase: "transform", Records: len(res.Rows), Duration: time.Since(transformStart),
	})
	res.Stats.WallTime = time.Since(start)
	return res, nil
}
