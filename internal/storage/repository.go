package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested run does not exist.
	ErrNotFound = errors.New("storage: run not found")
	// ErrInvalidInput is returned when a record fails validation.
	ErrInvalidInput = errors.New("storage: invalid input")
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS simulation_runs (
        id                  BIGSERIAL PRIMARY KEY,
        label               TEXT NOT NULL DEFAULT '',
        seed                NUMERIC(20,0) NOT NULL,
        trials              INTEGER NOT NULL,
        workers             INTEGER NOT NULL,
        loss_probability    NUMERIC NOT NULL,
        mean_loss_mm        NUMERIC NOT NULL,
        mean_irr            NUMERIC,
        median_irr          NUMERIC,
        downside_percentile NUMERIC NOT NULL,
        downside_irr        NUMERIC,
        base_irr            NUMERIC,
        breakeven_factor    NUMERIC,
        non_convergent      INTEGER NOT NULL DEFAULT 0,
        attribution         JSONB NOT NULL DEFAULT '{}'::jsonb,
        alerted             BOOLEAN NOT NULL DEFAULT FALSE,
        started_at          TIMESTAMPTZ NOT NULL,
        finished_at         TIMESTAMPTZ NOT NULL,
        created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS simulation_runs_created_at_idx ON simulation_runs (created_at DESC);`

	insertRunSQL = `INSERT INTO simulation_runs (
        label,
        seed,
        trials,
        workers,
        loss_probability,
        mean_loss_mm,
        mean_irr,
        median_irr,
        downside_percentile,
        downside_irr,
        base_irr,
        breakeven_factor,
        non_convergent,
        attribution,
        alerted,
        started_at,
        finished_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
    )
    RETURNING id, created_at;`

	selectRunColumns = `SELECT
        id,
        label,
        seed::text,
        trials,
        workers,
        loss_probability::text,
        mean_loss_mm::text,
        mean_irr::text,
        median_irr::text,
        downside_percentile::text,
        downside_irr::text,
        base_irr::text,
        breakeven_factor::text,
        non_convergent,
        attribution,
        alerted,
        started_at,
        finished_at,
        created_at
    FROM simulation_runs`

	listRecentRunsSQL = selectRunColumns + `
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	getRunSQL = selectRunColumns + `
    WHERE id = $1;`

	markRunAlertedSQL = `UPDATE simulation_runs SET alerted = TRUE WHERE id = $1;`

	findRunByLabelSQL = selectRunColumns + `
    WHERE label = $1
    ORDER BY id DESC
    LIMIT 1;`

	deleteRunsBeforeSQL = `DELETE FROM simulation_runs WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for run history persistence.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) (RunRecord, error)
	GetRun(ctx context.Context, id int64) (RunRecord, error)
	FindRunByLabel(ctx context.Context, label string) (RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	MarkRunAlerted(ctx context.Context, id int64) error
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists run summaries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also drops if the connection dies
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// EnsureSchema creates the run table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, ensureSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

func validateRun(run RunRecord) error {
	if run.Trials <= 0 {
		return fmt.Errorf("%w: trials must be positive", ErrInvalidInput)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		return fmt.Errorf("%w: run finished before it started", ErrInvalidInput)
	}
	return nil
}

// InsertRun persists a run and returns it with ID and CreatedAt set.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}
	if err := validateRun(run); err != nil {
		return RunRecord{}, err
	}

	attribution, err := json.Marshal(run.Attribution)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal attribution: %w", err)
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.Label,
		strconv.FormatUint(run.Seed, 10),
		run.Trials,
		run.Workers,
		run.LossProbability.String(),
		run.MeanLossMM.String(),
		nullable(run.MeanIRR),
		nullable(run.MedianIRR),
		run.DownsidePercentile.String(),
		nullable(run.DownsideIRR),
		nullable(run.BaseIRR),
		nullable(run.BreakevenFactor),
		run.NonConvergent,
		attribution,
		run.Alerted,
		run.StartedAt,
		run.FinishedAt,
	)
	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", scanErr)
	}
	return run, nil
}

// GetRun loads one run by ID.
func (s *Store) GetRun(ctx context.Context, id int64) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	rows, queryErr := pool.Query(ctx, getRunSQL, id)
	if queryErr != nil {
		return RunRecord{}, fmt.Errorf("get run: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return RunRecord{}, rows.Err()
		}
		return RunRecord{}, ErrNotFound
	}
	return scanRun(rows)
}

// FindRunByLabel loads the newest run carrying label.
func (s *Store) FindRunByLabel(ctx context.Context, label string) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	rows, queryErr := pool.Query(ctx, findRunByLabelSQL, label)
	if queryErr != nil {
		return RunRecord{}, fmt.Errorf("find run by label: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return RunRecord{}, rows.Err()
		}
		return RunRecord{}, ErrNotFound
	}
	return scanRun(rows)
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// MarkRunAlerted flags a run whose alert was delivered.
func (s *Store) MarkRunAlerted(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markRunAlertedSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark run alerted: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRunsBefore prunes historical runs and reports how many were removed.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete runs before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullable(s *string, field string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run            RunRecord
		seedStr        string
		lossStr        string
		meanLossStr    string
		meanIRR        *string
		medianIRR      *string
		percentileStr  string
		downsideIRR    *string
		baseIRR        *string
		breakeven      *string
		attributionRaw []byte
	)

	if err := rows.Scan(
		&run.ID,
		&run.Label,
		&seedStr,
		&run.Trials,
		&run.Workers,
		&lossStr,
		&meanLossStr,
		&meanIRR,
		&medianIRR,
		&percentileStr,
		&downsideIRR,
		&baseIRR,
		&breakeven,
		&run.NonConvergent,
		&attributionRaw,
		&run.Alerted,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}

	var err error
	if run.Seed, err = strconv.ParseUint(seedStr, 10, 64); err != nil {
		return RunRecord{}, fmt.Errorf("parse seed: %w", err)
	}
	if run.LossProbability, err = decimal.NewFromString(lossStr); err != nil {
		return RunRecord{}, fmt.Errorf("parse loss probability: %w", err)
	}
	if run.MeanLossMM, err = decimal.NewFromString(meanLossStr); err != nil {
		return RunRecord{}, fmt.Errorf("parse mean loss: %w", err)
	}
	if run.DownsidePercentile, err = decimal.NewFromString(percentileStr); err != nil {
		return RunRecord{}, fmt.Errorf("parse downside percentile: %w", err)
	}
	if run.MeanIRR, err = parseNullable(meanIRR, "mean irr"); err != nil {
		return RunRecord{}, err
	}
	if run.MedianIRR, err = parseNullable(medianIRR, "median irr"); err != nil {
		return RunRecord{}, err
	}
	if run.DownsideIRR, err = parseNullable(downsideIRR, "downside irr"); err != nil {
		return RunRecord{}, err
	}
	if run.BaseIRR, err = parseNullable(baseIRR, "base irr"); err != nil {
		return RunRecord{}, err
	}
	if run.BreakevenFactor, err = parseNullable(breakeven, "breakeven factor"); err != nil {
		return RunRecord{}, err
	}
	if len(attributionRaw) > 0 {
		if err := json.Unmarshal(attributionRaw, &run.Attribution); err != nil {
			return RunRecord{}, fmt.Errorf("parse attribution: %w", err)
		}
	}
	return run, nil
}

var _ RunStore = (*Store)(nil)
