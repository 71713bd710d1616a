package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sheetbridge/internal/models"
)

// PostgresStore persists runs in Postgres. Both dispatch invariants are
// enforced by the database itself: the primary key on run_id and a partial
// unique index covering live states.
type PostgresStore struct {
	db *pgxpool.Pool
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS export_runs (
	run_id       TEXT PRIMARY KEY,
	config_id    TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	state        TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	row_count    INT NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	destination  TEXT NOT NULL DEFAULT '',
	soft_errors  JSONB,
	stats        JSONB
);
CREATE UNIQUE INDEX IF NOT EXISTS export_runs_one_live
	ON export_runs (config_id) WHERE state IN ('pending', 'running');
CREATE INDEX IF NOT EXISTS export_runs_config_started
	ON export_runs (config_id, started_at DESC);
`

func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if _, err := pool.Exec(context.Background(), runsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure export_runs schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() { s.db.Close() }

func (s *PostgresStore) Create(ctx context.Context, run *models.RunRecord) error {
	softErrs, stats, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO export_runs
			(run_id, config_id, trigger_kind, state, started_at, ended_at,
			 row_count, error, destination, soft_errors, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.RunID, run.ConfigID, string(run.Trigger), string(run.State),
		run.StartedAt, run.EndedAt, run.RowCount, run.Error, run.Destination,
		softErrs, stats)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "export_runs_one_live" {
				return ErrRunInProgress
			}
			return ErrDuplicateRun
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	rows, err := s.db.Query(ctx, selectRuns+` WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return runs[0], nil
}

func (s *PostgresStore) Update(ctx context.Context, run *models.RunRecord) error {
	softErrs, stats, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE export_runs
		SET state = $2, ended_at = $3, row_count = $4, error = $5,
		    soft_errors = $6, stats = $7
		WHERE run_id = $1`,
		run.RunID, string(run.State), run.EndedAt, run.RowCount, run.Error,
		softErrs, stats)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *PostgresStore) ListByConfig(ctx context.Context, configID string, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		selectRuns+` WHERE config_id = $1 ORDER BY started_at DESC LIMIT $2`,
		configID, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (s *PostgresStore) ListLive(ctx context.Context) ([]*models.RunRecord, error) {
	rows, err := s.db.Query(ctx,
		selectRuns+` WHERE state IN ('pending', 'running') ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

const selectRuns = `
	SELECT run_id, config_id, trigger_kind, state, started_at, ended_at,
	       row_count, error, destination, soft_errors, stats
	FROM export_runs`

func scanRuns(rows pgx.Rows) ([]*models.RunRecord, error) {
	defer rows.Close()

	var out []*models.RunRecord
	for rows.Next() {
		var (
			run      models.RunRecord
			trigger  string
			state    string
			softErrs []byte
			stats    []byte
		)
		if err := rows.Scan(&run.RunID, &run.ConfigID, &trigger, &state,
			&run.StartedAt, &run.EndedAt, &run.RowCount, &run.Error,
			&run.Destination, &softErrs, &stats); err != nil {
			return nil, err
		}
		run.Trigger = models.Trigger(trigger)
		run.State = models.RunState(state)
		if len(softErrs) > 0 {
			if err := json.Unmarshal(softErrs, &run.Errors); err != nil {
				return nil, fmt.Errorf("decode soft errors for run %s: %w", run.RunID, err)
			}
		}
		if len(stats) > 0 {
			if err := json.Unmarshal(stats, &run.Stats); err != nil {
				return nil, fmt.Errorf("decode stats for run %s: %w", run.RunID, err)
			}
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func marshalRunJSON(run *models.RunRecord) (softErrs, stats []byte, err error) {
	if len(run.Errors) > 0 {
		if softErrs, err = json.Marshal(run.Errors); err != nil {
			return nil, nil, fmt.Errorf("encode soft errors: %w", err)
		}
	}
	if run.Stats != nil {
		if stats, err = json.Marshal(run.Stats); err != nil {
			return nil, nil, fmt.Errorf("encode stats: %w", err)
		}
	}
	return softErrs, stats, nil
}
