package models

import (
	"time"
)

// RunState is the lifecycle state of one export run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunStale     RunState = "stale"
)

// Trigger says who asked for the run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// WriteMode controls how rows land in the destination sheet.
type WriteMode string

const (
	WriteAppend    WriteMode = "append"
	WriteOverwrite WriteMode = "overwrite"
)

// RateSource selects which record date anchors currency conversion.
type RateSource string

const (
	RateSourceDocument RateSource = "document-date"
	RateSourceOrder    RateSource = "order-date"
	RateSourceShip     RateSource = "ship-date"
	RateSourceToday    RateSource = "today"
)

// CurrencySettings is the per-configuration conversion request.
// An empty TargetCurrency disables conversion.
type CurrencySettings struct {
	TargetCurrency string     `json:"target_currency" yaml:"target_currency"`
	RateSource     RateSource `json:"rate_source" yaml:"rate_source"`
}

// CustomField is a user-defined template column.
type CustomField struct {
	Label    string `json:"label" yaml:"label"`
	Template string `json:"template" yaml:"template"`
}

// ExportConfig is the read-only input to the engine. It is created and
// mutated externally; the engine only loads it.
type ExportConfig struct {
	ID              string                 `json:"id" yaml:"id"`
	TenantID        string                 `json:"tenant_id" yaml:"tenant_id"`
	Token           string                 `json:"-" yaml:"token"`
	Dataset         string                 `json:"dataset" yaml:"dataset"`
	SelectedFields  []string               `json:"selected_fields" yaml:"selected_fields"`
	Filters         map[string]any         `json:"filters" yaml:"filters"`
	CustomHeaders   map[string]string      `json:"custom_headers" yaml:"custom_headers"`
	CustomFields    map[string]CustomField `json:"custom_fields" yaml:"custom_fields"`
	Currency        CurrencySettings       `json:"currency" yaml:"currency"`
	ScheduleMinutes int                    `json:"schedule_minutes" yaml:"schedule_minutes"`
	Destination     string                 `json:"destination" yaml:"destination"`
	WriteMode       WriteMode              `json:"write_mode" yaml:"write_mode"`
	Active          bool                   `json:"active" yaml:"active"`

	// Dataset-scoped options, e.g. inventory_id for inventory datasets.
	Options map[string]string `json:"options,omitempty" yaml:"options"`

	// Output formatting knobs with engine defaults.
	NullMarker    string `json:"null_marker,omitempty" yaml:"null_marker"`
	DecimalPlaces int    `json:"decimal_places,omitempty" yaml:"decimal_places"`
	BoolTrue      string `json:"bool_true,omitempty" yaml:"bool_true"`
	BoolFalse     string `json:"bool_false,omitempty" yaml:"bool_false"`
}

// SoftError is an error recorded against a run without aborting it.
type SoftError struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PhaseStats counts records entering and leaving one pipeline phase.
type PhaseStats struct {
	Phase    string        `json:"phase"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}

// EnricherStats is one enricher's contribution to a run.
type EnricherStats struct {
	Name     string        `json:"name"`
	Calls    int           `json:"upstream_calls"`
	Duration time.Duration `json:"duration"`
}

// RunStats is attached to the run record at termination.
type RunStats struct {
	Phases    []PhaseStats    `json:"phases,omitempty"`
	Enrichers []EnricherStats `json:"enrichers,omitempty"`
	WallTime  time.Duration   `json:"wall_time"`
}

// RunRecord is the persisted outcome of one dispatch.
type RunRecord struct {
	RunID       string      `json:"run_id"`
	ConfigID    string      `json:"config_id"`
	Trigger     Trigger     `json:"trigger"`
	State       RunState    `json:"state"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	RowCount    int         `json:"row_count"`
	Error       string      `json:"error,omitempty"`
	Destination string      `json:"destination"`
	Errors      []SoftError `json:"errors,omitempty"`
	Stats       *RunStats   `json:"stats,omitempty"`
}

// Stale reports whether a live run has exceeded the given threshold without
// reaching a terminal state. Readers expose this; they never mutate state.
func (r *RunRecord) Stale(threshold time.Duration, now time.Time) bool {
	if r.State != RunPending && r.State != RunRunning {
		return false
	}
	return now.Sub(r.StartedAt) > threshold
}

// Terminal reports whether the run reached a final state.
func (r *RunRecord) Terminal() bool {
	return r.State == RunSucceeded || r.State == RunFailed
}
