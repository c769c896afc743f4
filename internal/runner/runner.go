package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunContext — окружение одного run.
type RunContext struct {
	// RunID — идентификатор run. Пустой — генерируется.
	RunID uuid.UUID

	// Pipeline — имя pipeline.
	Pipeline string

	// RunnerLabel — метка runner'а из матрицы ("ubuntu-latest").
	RunnerLabel string

	// Event — событие, запустившее run.
	Event domain.Event

	// Workspace — корневая рабочая директория. Относительные
	// working_directory шагов считаются от неё.
	Workspace string

	// Env — переменные окружения run (env pipeline плюс переопределения).
	// Перекрывают окружение процесса, перекрываются env шага.
	Env map[string]string

	// Output — куда дублировать вывод шагов (может быть nil).
	Output io.Writer

	// Progress вызывается после старта run и после каждого шага (может быть nil).
	// Получает живой run: сохранять нужно копию.
	Progress func(run *domain.Run)
}

// Runner выполняет шаги pipeline последовательно.
//
// Runner не хранит состояние между вызовами и может обслуживать
// несколько run одновременно (у каждого свой RunContext и workspace).
type Runner struct {
	registry *Registry
	baseEnv  func() []string
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// Config — конфигурация Runner.
type Config struct {
	// Registry — реестр executor'ов (опционально; если nil — NewRegistry с CacheStore).
	Registry *Registry

	// CacheStore — хранилище кэша для реестра по умолчанию (может быть nil).
	CacheStore cache.Store

	// BaseEnv — базовое окружение процессов (default: os.Environ).
	BaseEnv func() []string

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(nil)
		registry.Register(domain.StepKindCache, &CacheExecutor{
			Store:   cfg.CacheStore,
			Metrics: cfg.Metrics,
			Logger:  logger,
		})
	}

	baseEnv := cfg.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ
	}

	return &Runner{
		registry: registry,
		baseEnv:  baseEnv,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Run создаёт run и выполняет steps.
//
// Ошибка возвращается только для некорректного входа (пустые шаги,
// неизвестная категория, нет workspace). Упавший шаг — не ошибка:
// он отражается в статусе и результатах run.
func (r *Runner) Run(ctx context.Context, steps []domain.Step, rc *RunContext) (*domain.Run, error) {
	if rc == nil {
		return nil, ErrInvalidRunContext
	}
	run := domain.NewRun(rc.Pipeline, rc.RunnerLabel, rc.Event)
	if rc.RunID != uuid.Nil {
		run.ID = rc.RunID
	}
	if err := r.Execute(ctx, run, steps, rc); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute выполняет steps в рамках существующего run (в статусе PENDING).
//
// По завершении run находится в статусе SUCCEEDED, FAILED или CANCELLED
// и содержит ровно по одному StepResult на каждый шаг, в порядке шагов.
func (r *Runner) Execute(ctx context.Context, run *domain.Run, steps []domain.Step, rc *RunContext) error {
	if err := r.validate(steps, rc); err != nil {
		return err
	}
	if run.Status != domain.RunStatusPending {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidRunContext, run.ID, run.Status)
	}

	rcCopy := *rc
	rc = &rcCopy
	rc.RunID = run.ID
	workspace, err := filepath.Abs(rc.Workspace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunContext, err)
	}
	rc.Workspace = workspace
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("%w: create workspace: %v", ErrInvalidRunContext, err)
	}

	logger := telemetry.WithRunID(r.logger, run.ID.String()).With(
		"pipeline", run.Pipeline,
		"runner", run.RunnerLabel,
	)

	tctx := engine.NewContext(rc.RunnerLabel, rc.Event, workspace)
	for k, v := range injectedEnv(rc, tctx.Runner.OS) {
		tctx.SetEnv(k, v)
	}
	runEnv, err := engine.RenderEnv(rc.Env, tctx)
	if err != nil {
		return fmt.Errorf("render run env: %w", err)
	}
	for k, v := range runEnv {
		tctx.SetEnv(k, v)
	}

	run.MarkRunning()
	r.metrics.RunStarted()
	logger.Info("run started", "steps", len(steps))
	rc.progress(run)

	requests := make([]*Request, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			// Отмена между шагами: текущим считается следующий шаг
			res := domain.StepResult{
				StepID:   step.ID,
				Name:     step.DisplayName(),
				Kind:     step.EffectiveKind(),
				Status:   domain.StepStatusFailed,
				ExitCode: domain.ExitCodeNotRun,
				Error:    err.Error(),
				Advisory: step.IsAdvisory(),
			}
			run.AddStepResult(res)
			r.cancel(run, steps[i+1:], logger, err)
			return nil
		}

		req, res := r.executeStep(ctx, step, rc, tctx, logger)
		requests[i] = req
		run.AddStepResult(res)
		tctx.AddStepResult(step.ID, res.Outputs, string(res.Status))
		if key, ok := res.Outputs[OutputCacheKey].(string); ok && run.CacheKey == "" {
			run.CacheKey = key
		}
		rc.progress(run)

		if res.Succeeded() {
			continue
		}

		if err := ctx.Err(); err != nil {
			r.cancel(run, steps[i+1:], logger, err)
			return nil
		}

		if step.IsAdvisory() {
			logger.Warn("advisory step failed, continuing",
				"step_id", step.ID,
				"kind", step.EffectiveKind(),
				"error", res.Error,
			)
			continue
		}

		stepErr := &StepError{
			StepID:   step.ID,
			Kind:     step.EffectiveKind(),
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Err:      KindError(step.EffectiveKind()),
		}
		r.skipRemaining(run, steps[i+1:], logger)
		run.MarkFailed(step, stepErr.Error())
		r.metrics.RunFinished(string(run.Status))
		logger.Error("run failed",
			"failed_step", step.ID,
			"failure_kind", step.EffectiveKind(),
			"exit_code", res.ExitCode,
			"skipped", run.SkippedCount(),
			"output", lastLines(res.Output, 20),
		)
		return nil
	}

	r.post(ctx, steps, requests, run, logger)

	run.MarkSucceeded()
	r.metrics.RunFinished(string(run.Status))
	logger.Info("run succeeded", "duration", run.Duration())
	return nil
}

// progress сообщает о продвижении run.
func (rc *RunContext) progress(run *domain.Run) {
	if rc.Progress != nil {
		rc.Progress(run)
	}
}

// executeStep рендерит и выполняет один шаг.
func (r *Runner) executeStep(
	ctx context.Context,
	step domain.Step,
	rc *RunContext,
	tctx *engine.Context,
	logger *slog.Logger,
) (*Request, domain.StepResult) {
	kind := step.EffectiveKind()
	stepLogger := telemetry.WithStepID(logger, step.ID)

	start := time.Now()
	res := domain.StepResult{
		StepID:    step.ID,
		Name:      step.DisplayName(),
		Kind:      kind,
		Status:    domain.StepStatusRunning,
		ExitCode:  domain.ExitCodeNotRun,
		Advisory:  step.IsAdvisory(),
		StartedAt: &start,
	}

	finish := func(status domain.StepStatus) domain.StepResult {
		res.Status = status
		res.Duration = time.Since(start)
		r.metrics.ObserveStep(string(kind), string(status), res.Duration.Seconds())
		return res
	}

	stepLogger.Info("step started", "name", step.DisplayName(), "kind", kind)

	rendered, err := engine.RenderStep(step, tctx)
	if err != nil {
		res.Error = err.Error()
		stepLogger.Warn("step render failed", "error", err)
		return nil, finish(domain.StepStatusFailed)
	}

	req := &Request{
		Step:     rendered,
		Dir:      resolveDir(rc.Workspace, rendered.WorkingDirectory),
		Env:      mergeEnv(r.baseEnv(), tctx.Env, rendered.Env),
		Template: tctx,
		Output:   rc.Output,
	}

	executor, err := r.registry.Get(kind)
	if err != nil {
		res.Error = err.Error()
		return req, finish(domain.StepStatusFailed)
	}

	result, execErr := executor.Execute(ctx, req)
	if result != nil {
		res.ExitCode = result.ExitCode
		res.Output = result.Output
		res.Outputs = result.Outputs
		res.Error = result.Error
	}

	switch {
	case execErr != nil:
		res.Error = execErr.Error()
		stepLogger.Warn("step failed",
			"kind", kind,
			"error", execErr,
			"duration", time.Since(start),
		)
		return req, finish(domain.StepStatusFailed)

	case result == nil || result.Failed():
		if res.Error == "" {
			res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		stepLogger.Warn("step failed",
			"kind", kind,
			"exit_code", res.ExitCode,
			"error", res.Error,
			"duration", time.Since(start),
		)
		return req, finish(domain.StepStatusFailed)
	}

	res.ExitCode = 0
	stepLogger.Info("step succeeded", "kind", kind, "duration", time.Since(start))
	return req, finish(domain.StepStatusSucceeded)
}

// post вызывает Post у executor'ов после успешного run.
func (r *Runner) post(ctx context.Context, steps []domain.Step, requests []*Request, run *domain.Run, logger *slog.Logger) {
	for i, step := range steps {
		if requests[i] == nil {
			continue
		}
		executor, err := r.registry.Get(step.EffectiveKind())
		if err != nil {
			continue
		}
		post, ok := executor.(PostExecutor)
		if !ok {
			continue
		}
		if err := post.Post(ctx, requests[i], run.Steps[i]); err != nil {
			logger.Warn("post step failed", "step_id", step.ID, "error", err)
		}
	}
}

// cancel завершает run как CANCELLED.
func (r *Runner) cancel(run *domain.Run, rest []domain.Step, logger *slog.Logger, cause error) {
	r.skipRemaining(run, rest, logger)
	run.MarkCancelled(fmt.Sprintf("%v: %v", ErrRunCancelled, cause))
	r.metrics.RunFinished(string(run.Status))
	logger.Warn("run cancelled", "error", cause, "skipped", len(rest))
}

// skipRemaining помечает оставшиеся шаги как SKIPPED.
func (r *Runner) skipRemaining(run *domain.Run, rest []domain.Step, logger *slog.Logger) {
	for _, step := range rest {
		run.AddStepResult(domain.NewSkippedResult(step))
		logger.Debug("step skipped", "step_id", step.ID)
	}
}

// validate проверяет вход Run.
func (r *Runner) validate(steps []domain.Step, rc *RunContext) error {
	if rc == nil || rc.Workspace == "" {
		return fmt.Errorf("%w: workspace is required", ErrInvalidRunContext)
	}
	if len(steps) == 0 {
		return engine.ErrEmptySteps
	}

	ids := make(map[string]bool, len(steps))
	for i := range steps {
		if err := engine.ValidateStep(&steps[i], ids); err != nil {
			return err
		}
		if _, err := r.registry.Get(steps[i].EffectiveKind()); err != nil {
			return err
		}
	}
	return nil
}

// resolveDir возвращает рабочую директорию шага.
func resolveDir(workspace, dir string) string {
	if dir == "" {
		return workspace
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(workspace, dir)
}

// lastLines возвращает последние n строк вывода для лога.
func lastLines(s string, n int) string {
	count := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' && i != len(s)-1 {
			count++
			if count == n {
				return s[i+1:]
			}
		}
	}
	return s
}

// IsValidationError проверяет, что ошибка Run вызвана некорректным входом.
func IsValidationError(err error) bool {
	var vErr *engine.ValidationError
	return errors.As(err, &vErr) ||
		errors.Is(err, engine.ErrEmptySteps) ||
		errors.Is(err, ErrInvalidRunContext) ||
		errors.Is(err, ErrUnknownStepKind)
}
