package domain

import "time"

// ExitCodeNotRun — код завершения шага, который не запускался
// (пропущен или процесс не удалось стартовать).
const ExitCodeNotRun = -1

// StepResult — результат выполнения одного шага (Run Result).
//
// Результат неизменяем после завершения шага.
type StepResult struct {
	// StepID — ID шага из pipeline.
	StepID string `json:"step_id"`

	// Name — имя шага (копия Step.DisplayName()).
	Name string `json:"name"`

	// Kind — категория шага.
	Kind StepKind `json:"kind"`

	// Status — итоговый статус шага.
	Status StepStatus `json:"status"`

	// ExitCode — код завершения процесса; ExitCodeNotRun, если процесс не запускался.
	ExitCode int `json:"exit_code"`

	// Duration — продолжительность выполнения.
	Duration time.Duration `json:"duration"`

	// Output — захваченный stdout+stderr.
	Output string `json:"output,omitempty"`

	// Outputs — структурированные результаты (например, cache_hit, cache_key).
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error — описание ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// Advisory — падение шага не влияет на итоговый статус run.
	Advisory bool `json:"advisory,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// NewSkippedResult создаёт результат для шага, который не выполнялся.
func NewSkippedResult(step Step) StepResult {
	return StepResult{
		StepID:   step.ID,
		Name:     step.DisplayName(),
		Kind:     step.EffectiveKind(),
		Status:   StepStatusSkipped,
		ExitCode: ExitCodeNotRun,
		Advisory: step.IsAdvisory(),
	}
}

// Succeeded возвращает true, если шаг прошёл.
func (r StepResult) Succeeded() bool {
	return r.Status == StepStatusSucceeded
}

// Skipped возвращает true, если шаг был пропущен.
func (r StepResult) Skipped() bool {
	return r.Status == StepStatusSkipped
}

// CacheHit возвращает значение output "cache_hit" для шагов кэша.
func (r StepResult) CacheHit() bool {
	hit, _ := r.Outputs["cache_hit"].(bool)
	return hit
}
