package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// saveTimeout — лимит на сохранение и публикацию результата run.
const saveTimeout = 10 * time.Second

// dispatch регистрирует run и запускает его выполнение в отдельной горутине.
func (o *Orchestrator) dispatch(run *domain.Run, p *domain.Pipeline) {
	runCtx, cancel := context.WithCancel(o.ctx)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		cancel()
		o.abort(run, p.Steps, fmt.Errorf("%w: %w", runner.ErrRunCancelled, ErrStopped))
		return
	}
	o.active[run.ID] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer o.untrack(run.ID)
		defer cancel()
		o.execute(runCtx, run, p)
	}()
}

// execute ждёт свободный слот и выполняет run.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run, p *domain.Pipeline) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())
	steps := p.CloneSteps()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.abort(run, steps, fmt.Errorf("%w: %w", runner.ErrRunCancelled, err))
		return
	}
	defer o.sem.Release(1)

	workspace := filepath.Join(o.workspaceRoot, run.ID.String())
	if !o.keepWorkspaces {
		defer func() {
			if err := os.RemoveAll(workspace); err != nil {
				logger.Warn("failed to remove workspace", "workspace", workspace, "error", err)
			}
		}()
	}

	rc := &runner.RunContext{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		RunnerLabel: run.RunnerLabel,
		Event:       run.Event,
		Workspace:   workspace,
		Env:         o.runEnv(p),
		Progress: func(r *domain.Run) {
			o.save(r)
		},
	}

	if err := o.runner.Execute(ctx, run, steps, rc); err != nil {
		logger.Error("run rejected", "error", err)
		run.MarkRejected(err.Error())
		o.metrics.RunFinished(string(run.Status))
	}

	o.finish(run)
}

// abort завершает run, который так и не начал выполняться.
// Все шаги записываются как SKIPPED.
func (o *Orchestrator) abort(run *domain.Run, steps []domain.Step, cause error) {
	for _, step := range steps {
		run.AddStepResult(domain.NewSkippedResult(step))
	}
	run.MarkCancelled(cause.Error())
	o.metrics.RunFinished(string(run.Status))
	o.finish(run)
}

// finish сохраняет итог run и публикует run.finished.
func (o *Orchestrator) finish(run *domain.Run) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	o.save(run)

	if o.notifier != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), saveTimeout)
		defer cancel()
		if err := o.notifier.PublishRunFinished(ctx, run); err != nil {
			logger.Warn("failed to publish run.finished", "error", err)
		}
	}

	logger.Info("run finished",
		"status", run.Status,
		"failed_step", run.FailedStep,
		"duration", run.Duration(),
	)
}

// save сохраняет текущее состояние run. Ошибка хранилища не останавливает run.
func (o *Orchestrator) save(run *domain.Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), saveTimeout)
	defer cancel()

	if err := o.store.Update(ctx, run); err != nil {
		telemetry.WithRunID(o.logger, run.ID.String()).Error("failed to save run",
			"status", run.Status,
			"error", err,
		)
	}
}
