package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// defaultMaxConcurrentRuns — лимит одновременных run по умолчанию.
const defaultMaxConcurrentRuns = 2

// Notifier получает уведомления о завершённых run.
// Реализация: *mq.Publisher.
type Notifier interface {
	PublishRunFinished(ctx context.Context, run *domain.Run) error
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator:
//   - Фильтрует события по секции on текущего pipeline
//   - Создаёт run на каждую метку runs_on и сохраняет его в RunStore
//   - Выполняет run асинхронно, не более MaxConcurrentRuns одновременно
//   - Сохраняет прогресс и итог run, публикует run.finished
type Orchestrator struct {
	pipelines *PipelineSource
	runner    *runner.Runner
	store     repo.RunStore
	notifier  Notifier

	workspaceRoot  string
	keepWorkspaces bool
	repository     string
	allowForeign   bool
	env            map[string]string

	sem *semaphore.Weighted

	// ctx — контекст всех run; отменяется при принудительной остановке.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  map[uuid.UUID]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Pipelines — источник текущего pipeline.
	Pipelines *PipelineSource

	// Runner — исполнитель шагов.
	Runner *runner.Runner

	// Store — хранилище истории run.
	Store repo.RunStore

	// Notifier — получатель run.finished (опционально).
	Notifier Notifier

	// WorkspaceRoot — корень рабочих директорий run.
	WorkspaceRoot string

	// KeepWorkspaces — не удалять рабочую директорию после run.
	KeepWorkspaces bool

	// Repository — репозиторий для событий без repository.
	// Событие с другим репозиторием отклоняется.
	Repository string

	// AllowForeignRepositories — разрешить событиям любой репозиторий.
	AllowForeignRepositories bool

	// Env — переопределения окружения для всех run (перекрывают env pipeline).
	Env map[string]string

	// MaxConcurrentRuns — сколько run выполняется одновременно (default: 2).
	MaxConcurrentRuns int

	// Metrics (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	limit := cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = defaultMaxConcurrentRuns
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		pipelines:      cfg.Pipelines,
		runner:         cfg.Runner,
		store:          cfg.Store,
		notifier:       cfg.Notifier,
		workspaceRoot:  cfg.WorkspaceRoot,
		keepWorkspaces: cfg.KeepWorkspaces,
		repository:     cfg.Repository,
		allowForeign:   cfg.AllowForeignRepositories,
		env:            maps.Clone(cfg.Env),
		sem:            semaphore.NewWeighted(int64(limit)),
		ctx:            ctx,
		cancel:         cancel,
		active:         make(map[uuid.UUID]context.CancelFunc),
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "orchestrator"),
	}
}

// Pipeline возвращает текущий pipeline.
func (o *Orchestrator) Pipeline() *domain.Pipeline {
	return o.pipelines.Current()
}

// HandleEvent фильтрует событие и запускает run для каждой метки runs_on.
//
// Возвращает снимки созданных run (в статусе PENDING) и решение фильтра.
// Если событие не подходит под секцию on, run не создаются и ошибки нет.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.Event) ([]*domain.Run, trigger.Decision, error) {
	if ev.Type == "" {
		return nil, trigger.Decision{}, fmt.Errorf("%w: type is required", ErrInvalidEvent)
	}
	if o.isStopped() {
		return nil, trigger.Decision{}, ErrStopped
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if err := trigger.CheckRepository(ev.Repository, o.repository, o.allowForeign); err != nil {
		return nil, trigger.Decision{}, fmt.Errorf("%w: %s", err, ev.Repository)
	}
	if ev.Repository == "" {
		ev.Repository = o.repository
	}

	p := o.Pipeline()
	decision := trigger.Match(p.On, ev)
	o.metrics.EventReceived(string(ev.Type), decision.Matched)

	logger := o.logger.With("event", ev.Type, "ref", ev.Ref, "action", ev.Action)
	if !decision.Matched {
		logger.Info("event ignored", "reason", decision.Reason)
		return nil, decision, nil
	}

	runs := make([]*domain.Run, 0, len(p.RunsOn))
	for _, label := range p.RunsOn {
		run := domain.NewRun(p.Name, label, ev)
		if err := o.store.Create(ctx, run); err != nil {
			return runs, decision, fmt.Errorf("create run: %w", err)
		}

		snapshot := *run
		runs = append(runs, &snapshot)

		logger.Info("run queued", "run_id", run.ID, "runner", label)
		o.dispatch(run, p)
	}

	return runs, decision, nil
}

// Trigger запускает pipeline вручную для ref и sha.
func (o *Orchestrator) Trigger(ctx context.Context, ref, sha string) ([]*domain.Run, error) {
	runs, _, err := o.HandleEvent(ctx, domain.Event{
		Type: domain.EventManual,
		Ref:  ref,
		SHA:  sha,
	})
	return runs, err
}

// Cancel отменяет выполняющийся или ожидающий run.
func (o *Orchestrator) Cancel(runID uuid.UUID) error {
	o.mu.Lock()
	cancel, ok := o.active[runID]
	o.mu.Unlock()

	if !ok {
		return ErrRunNotActive
	}
	cancel()
	return nil
}

// ActiveRuns возвращает количество run, которые выполняются или ждут слота.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown перестаёт принимать события и ждёт завершения run.
// Если ctx истекает раньше, оставшиеся run отменяются (CANCELLED).
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	active := len(o.active)
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator", "active_runs", active)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		o.logger.Warn("orchestrator stopped, active runs cancelled")
		return ctx.Err()
	}
}

// isStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// untrack убирает run из активных.
func (o *Orchestrator) untrack(runID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

// runEnv собирает окружение run: env pipeline, поверх — переопределения сервера.
func (o *Orchestrator) runEnv(p *domain.Pipeline) map[string]string {
	env := maps.Clone(p.Env)
	if env == nil {
		env = make(map[string]string, len(o.env))
	}
	maps.Copy(env, o.env)
	return env
}
