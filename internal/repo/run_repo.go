package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с runs и step_results.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// runColumns — колонки runs в порядке scanRun.
const runColumns = `id, pipeline, runner_label, event, status, failed_step, failure_kind,
		       cache_key, started_at, finished_at, error, created_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	eventJSON, err := json.Marshal(run.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	query := `
		INSERT INTO runs (id, pipeline, runner_label, event, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Pipeline,
		run.RunnerLabel,
		eventJSON,
		run.Status,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update обновляет run и переписывает результаты шагов в одной транзакции.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE runs
		SET status = $2, failed_step = $3, failure_kind = $4, cache_key = $5,
		    started_at = $6, finished_at = $7, error = $8
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.FailedStep),
		nullString(string(run.FailureKind)),
		nullString(run.CacheKey),
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM step_results WHERE run_id = $1`, run.ID); err != nil {
		return fmt.Errorf("delete step results: %w", err)
	}

	batch := &pgx.Batch{}
	for i, s := range run.Steps {
		outputsJSON, err := json.Marshal(s.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		batch.Queue(`
			INSERT INTO step_results (run_id, position, step_id, name, kind, status, exit_code,
			                          duration_ms, output, outputs, error, advisory, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			run.ID, i, s.StepID, s.Name, s.Kind, s.Status, s.ExitCode,
			s.Duration.Milliseconds(), nullString(s.Output), outputsJSON,
			nullString(s.Error), s.Advisory, s.StartedAt,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert step results: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID вместе с результатами шагов.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	steps, err := r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.normalized()

	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR pipeline = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Pipeline),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// listSteps возвращает результаты шагов run в порядке выполнения.
func (r *RunRepo) listSteps(ctx context.Context, runID uuid.UUID) ([]domain.StepResult, error) {
	query := `
		SELECT step_id, name, kind, status, exit_code, duration_ms, output, outputs, error, advisory, started_at
		FROM step_results
		WHERE run_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepResult
	for rows.Next() {
		var s domain.StepResult
		var durationMs int64
		var output, stepError *string
		var outputsJSON []byte

		if err := rows.Scan(
			&s.StepID,
			&s.Name,
			&s.Kind,
			&s.Status,
			&s.ExitCode,
			&durationMs,
			&output,
			&outputsJSON,
			&stepError,
			&s.Advisory,
			&s.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}

		s.Duration = time.Duration(durationMs) * time.Millisecond
		if output != nil {
			s.Output = *output
		}
		if stepError != nil {
			s.Error = *stepError
		}
		if outputsJSON != nil {
			if err := json.Unmarshal(outputsJSON, &s.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs: %w", err)
			}
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// --- Helpers ---

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var eventJSON []byte
	var failedStep, failureKind, cacheKey, runError *string

	err := row.Scan(
		&run.ID,
		&run.Pipeline,
		&run.RunnerLabel,
		&eventJSON,
		&run.Status,
		&failedStep,
		&failureKind,
		&cacheKey,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if eventJSON != nil {
		if err := json.Unmarshal(eventJSON, &run.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
	}
	if failedStep != nil {
		run.FailedStep = *failedStep
	}
	if failureKind != nil {
		run.FailureKind = domain.StepKind(*failureKind)
	}
	if cacheKey != nil {
		run.CacheKey = *cacheKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
