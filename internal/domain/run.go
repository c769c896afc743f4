package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один полный проход pipeline (Pipeline Result).
//
// Run создаётся когда:
// - Приходит событие-триггер (push, pull_request) и pipeline его принимает
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler срабатывает по cron-расписанию
//
// Для каждой метки runner'а из матрицы создаётся отдельный run.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Pipeline — имя pipeline, который выполняется.
	Pipeline string `json:"pipeline"`

	// RunnerLabel — метка runner'а из матрицы (например, "ubuntu-latest").
	RunnerLabel string `json:"runner_label"`

	// Event — событие, которое запустило run.
	Event Event `json:"event"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Steps — результаты шагов в порядке выполнения.
	// После завершения run содержит ровно по одному результату на каждый шаг pipeline.
	Steps []StepResult `json:"steps"`

	// FailedStep — ID обязательного шага, остановившего run.
	FailedStep string `json:"failed_step,omitempty"`

	// FailureKind — категория упавшего шага ("build", "audit", ...).
	// Позволяет отличить сломанную сборку от найденной уязвимости.
	FailureKind StepKind `json:"failure_kind,omitempty"`

	// CacheKey — ключ кэша, вычисленный в этом run.
	CacheKey string `json:"cache_key,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED или CANCELLED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(pipeline, runnerLabel string, event Event) *Run {
	return &Run{
		ID:          uuid.New(),
		Pipeline:    pipeline,
		RunnerLabel: runnerLabel,
		Event:       event,
		Status:      RunStatusPending,
		CreatedAt:   time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Succeeded возвращает true, если все обязательные шаги прошли.
func (r *Run) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED, запоминая упавший шаг.
func (r *Run) MarkFailed(step Step, err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.FailedStep = step.ID
	r.FailureKind = step.EffectiveKind()
	r.Error = err
}

// MarkRejected переводит run в статус FAILED без выполнения шагов
// (pipeline не прошёл проверку перед запуском).
func (r *Run) MarkRejected(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled(err string) {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Error = err
}

// AddStepResult добавляет результат шага.
func (r *Run) AddStepResult(res StepResult) {
	r.Steps = append(r.Steps, res)
}

// StepResult возвращает результат шага по ID.
func (r *Run) StepResult(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// SkippedCount возвращает количество пропущенных шагов.
func (r *Run) SkippedCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepStatusSkipped {
			n++
		}
	}
	return n
}

// ExitCode возвращает код завершения для хост-процесса:
// 0 только если все не-advisory шаги завершились с кодом 0.
func (r *Run) ExitCode() int {
	if r.Status == RunStatusSucceeded {
		return 0
	}
	return 1
}
