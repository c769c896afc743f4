package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

// Run DTOs

// CreateRunRequest — запрос на ручной запуск pipeline.
type CreateRunRequest struct {
	Ref string `json:"ref,omitempty"`
	SHA string `json:"sha,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID            `json:"id"`
	Pipeline    string               `json:"pipeline"`
	RunnerLabel string               `json:"runner_label"`
	Status      string               `json:"status"`
	Event       domain.Event         `json:"event"`
	FailedStep  string               `json:"failed_step,omitempty"`
	FailureKind string               `json:"failure_kind,omitempty"`
	CacheKey    string               `json:"cache_key,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	DurationMs  int64                `json:"duration_ms,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	Steps       []StepResultResponse `json:"steps,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		Pipeline:    r.Pipeline,
		RunnerLabel: r.RunnerLabel,
		Status:      string(r.Status),
		Event:       r.Event,
		FailedStep:  r.FailedStep,
		FailureKind: string(r.FailureKind),
		CacheKey:    r.CacheKey,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		DurationMs:  r.Duration().Milliseconds(),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Steps) > 0 {
		resp.Steps = StepsFromDomain(r.Steps)
	}
	return resp
}

// RunsFromDomain конвертирует список run.
func RunsFromDomain(runs []*domain.Run) []RunResponse {
	result := make([]RunResponse, len(runs))
	for i, r := range runs {
		result[i] = RunFromDomain(*r)
	}
	return result
}

// StepResultResponse — результат шага.
type StepResultResponse struct {
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	Output     string         `json:"output,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	Advisory   bool           `json:"advisory,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
}

// StepsFromDomain конвертирует результаты шагов.
func StepsFromDomain(steps []domain.StepResult) []StepResultResponse {
	result := make([]StepResultResponse, len(steps))
	for i, s := range steps {
		result[i] = StepResultResponse{
			StepID:     s.StepID,
			Name:       s.Name,
			Kind:       string(s.Kind),
			Status:     string(s.Status),
			ExitCode:   s.ExitCode,
			DurationMs: s.Duration.Milliseconds(),
			Output:     s.Output,
			Outputs:    s.Outputs,
			Error:      s.Error,
			Advisory:   s.Advisory,
			StartedAt:  s.StartedAt,
		}
	}
	return result
}

// Event DTOs

// EventResponse — результат обработки события.
type EventResponse struct {
	Matched bool          `json:"matched"`
	Reason  string        `json:"reason,omitempty"`
	Runs    []RunResponse `json:"runs,omitempty"`
}
