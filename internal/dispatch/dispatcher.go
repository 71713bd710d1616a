package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/config"
	"sheetbridge/internal/enrichers"
	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/fetchers"
	"sheetbridge/internal/metrics"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/transform"
	"sheetbridge/internal/upstream"
	"sheetbridge/internal/writer"
)

// ErrConfigNotFound means no export configuration with this id exists.
var ErrConfigNotFound = errors.New("export configuration not found")

// timeoutExceeded is the run error recorded when the wall-clock ceiling cuts
// an execution short.
const timeoutExceeded = "TimeoutExceeded"

// RunRequest parameterizes one dispatch. An empty RunID gets a fresh uuid;
// a caller-supplied RunID makes the dispatch idempotent.
type RunRequest struct {
	RunID   string
	Trigger models.Trigger
}

// DispatchResult reports what the dispatcher did with a request.
type DispatchResult struct {
	Run *models.RunRecord
	// Cached means this run id finished before; Run is its terminal record.
	Cached bool
	// InProgress means the run is still live: either this run id is mid
	// execution or another run holds the config's execution slot.
	InProgress bool
}

// Dispatcher owns run creation and execution. Runs execute on their own
// goroutines with a detached, deadline-bound context.
type Dispatcher struct {
	store  RunStore
	source ConfigSource
	bus    *eventbus.Bus
	rates  *rates.Service
	budget *upstream.Budget
	sink   writer.Writer
	cfg    *config.Config
	log    zerolog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(store RunStore, source ConfigSource, bus *eventbus.Bus,
	ratesSvc *rates.Service, budget *upstream.Budget, sink writer.Writer,
	cfg *config.Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		source: source,
		bus:    bus,
		rates:  ratesSvc,
		budget: budget,
		sink:   sink,
		cfg:    cfg,
		log:    log,
	}
}

// RunExport dispatches one run for configID. Replayed run ids return the
// stored record; a config with a live run is not dispatched twice.
func (d *Dispatcher) RunExport(ctx context.Context, configID string, req RunRequest) (*DispatchResult, error) {
	exportCfg, ok := d.source.Get(configID)
	if !ok {
		return nil, ErrConfigNotFound
	}
	if err := ValidateConfig(exportCfg); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = models.TriggerManual
	}

	if existing, err := d.store.Get(ctx, runID); err == nil {
		return replayResult(existing), nil
	} else if !errors.Is(err, ErrRunNotFound) {
		return nil, err
	}

	run := &models.RunRecord{
		RunID:       runID,
		ConfigID:    configID,
		Trigger:     trigger,
		State:       models.RunPending,
		StartedAt:   now(),
		Destination: exportCfg.Destination,
	}
	switch err := d.store.Create(ctx, run); {
	case err == nil:
	case errors.Is(err, ErrDuplicateRun):
		existing, getErr := d.store.Get(ctx, runID)
		if getErr != nil {
			return nil, getErr
		}
		return replayResult(existing), nil
	case errors.Is(err, ErrRunInProgress):
		live, liveErr := d.liveRunFor(ctx, configID)
		if liveErr != nil {
			return nil, liveErr
		}
		return &DispatchResult{Run: live, InProgress: true}, nil
	default:
		return nil, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(run, exportCfg)
	}()

	cp := *run
	return &DispatchResult{Run: &cp}, nil
}

// Wait blocks until all in-flight runs finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// replayResult reports a previously dispatched run id: a terminal record is
// a cached result, a live one is still in progress.
func replayResult(run *models.RunRecord) *DispatchResult {
	if run.Terminal() {
		return &DispatchResult{Run: run, Cached: true}
	}
	return &DispatchResult{Run: run, InProgress: true}
}

func (d *Dispatcher) liveRunFor(ctx context.Context, configID string) (*models.RunRecord, error) {
	runs, err := d.store.ListByConfig(ctx, configID, 10)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if !r.Terminal() {
			return r, nil
		}
	}
	return nil, ErrRunInProgress
}

// execute runs the pipeline for one dispatched record. The context is
// detached from the caller and bounded by the configured run timeout.
func (d *Dispatcher) execute(run *models.RunRecord, exportCfg *models.ExportConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RunTimeout())
	defer cancel()

	log := d.log.With().Str("run_id", run.RunID).Str("config_id", run.ConfigID).Logger()

	run.State = models.RunRunning
	if err := d.store.Update(ctx, run); err != nil {
		log.Error().Err(err).Msg("mark running failed")
	}
	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRunStarted, ConfigID: run.ConfigID, RunID: run.RunID,
		State: run.State, Timestamp: now(),
	})
	log.Info().Str("trigger", string(run.Trigger)).Msg("run started")

	result, err := d.runPipeline(ctx, exportCfg, log)
	if result != nil {
		run.Stats = &result.Stats
		run.Errors = append(run.Errors, result.SoftErrors...)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New(timeoutExceeded)
		}
		d.finish(ctx, run, models.RunFailed, err.Error(), log)
		return
	}

	written, err := d.sink.Write(ctx, exportCfg.Destination, result.Headers, result.Rows, exportCfg.WriteMode)
	if err != nil {
		d.finish(ctx, run, models.RunFailed, fmt.Sprintf("write destination: %v", err), log)
		return
	}
	run.RowCount = written
	metrics.RowsExported.Add(float64(written))
	d.finish(ctx, run, models.RunSucceeded, "", log)
}

// runPipeline wires the configured dataset into a fetch/enrich/transform
// orchestrator and executes it.
func (d *Dispatcher) runPipeline(ctx context.Context, exportCfg *models.ExportConfig, log zerolog.Logger) (*pipeline.Result, error) {
	dataset, ok := catalog.GetDataset(exportCfg.Dataset)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", exportCfg.Dataset)
	}

	client := upstream.NewClient(d.cfg.UpstreamBaseURL, exportCfg.Token, d.budget)
	fetcher, err := fetchers.New(exportCfg.Dataset, client, d.cfg.MaxRecords)
	if err != nil {
		return nil, err
	}

	// An empty selection exports nothing, so no enricher has work to do.
	withCurrency := exportCfg.Currency.TargetCurrency != ""
	deps := enrichers.Deps{Client: client, Rates: d.rates, Dataset: dataset, Config: exportCfg}
	var enrich []pipeline.Enricher
	if len(exportCfg.SelectedFields) > 0 {
		for _, tag := range catalog.RequiredEnrichments(exportCfg.Dataset, exportCfg.SelectedFields, withCurrency) {
			e, err := enrichers.New(tag, deps)
			if err != nil {
				return nil, err
			}
			enrich = append(enrich, e)
		}
	}

	var result *pipeline.Result
	dicts, dictErrs := d.loadDictionaries(ctx, client, exportCfg)
	transformer := transform.New(dataset, exportCfg, dicts, log)

	orch := pipeline.NewOrchestrator(fetcher, enrich, transformer,
		exportCfg.Filters, exportCfg.Options, log)
	result, err = orch.Execute(ctx)
	if result != nil {
		for _, dictErr := range dictErrs {
			result.SoftErrors = append(result.SoftErrors, models.SoftError{
				Source: "dictionaries", Message: dictErr.Error(), At: now(),
			})
		}
	}
	return result, err
}

// dictionaryDatasets are the datasets whose computed columns need id-to-name
// lookups; other datasets skip the four listing calls.
var dictionaryDatasets = map[string]bool{
	"orders": true, "order_items": true, "warehouse_documents": true,
}

func (d *Dispatcher) loadDictionaries(ctx context.Context, client *upstream.Client, exportCfg *models.ExportConfig) (*transform.Dictionaries, []error) {
	if len(exportCfg.SelectedFields) == 0 || !dictionaryDatasets[exportCfg.Dataset] {
		return nil, nil
	}
	return transform.LoadDictionaries(ctx, client)
}

func (d *Dispatcher) finish(ctx context.Context, run *models.RunRecord, state models.RunState, errMsg string, log zerolog.Logger) {
	endedAt := now()
	run.State = state
	run.EndedAt = &endedAt
	run.Error = errMsg
	metrics.Runs.WithLabelValues(string(state)).Inc()

	// The run context may already be dead (timeout); persist with a fresh one.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.store.Update(updateCtx, run); err != nil {
		log.Error().Err(err).Msg("persist terminal state failed")
	}

	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRunFinished, ConfigID: run.ConfigID, RunID: run.RunID,
		State: state, Timestamp: endedAt, Data: run.RowCount,
	})

	evt := log.Info()
	if state == models.RunFailed {
		evt = log.Error()
	}
	evt.Str("state", string(state)).Int("rows", run.RowCount).
		Str("error", errMsg).Dur("took", endedAt.Sub(run.StartedAt)).Msg("run finished")
}
