package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (внешняя отмена через context)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все обязательные шаги завершились с кодом 0.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — обязательный шаг завершился с ненулевым кодом.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run прерван извне (отмена context).
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseRunStatus парсит строку в RunStatus.
// Возвращает false, если статус неизвестен.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return RunStatus(s), true
	default:
		return "", false
	}
}

// StepStatus — статус выполнения одного шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	        → SKIPPED (предыдущий обязательный шаг упал)
type StepStatus string

const (
	// StepStatusPending — шаг ещё не запускался.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — шаг выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSucceeded — процесс шага завершился с кодом 0.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — процесс шага завершился с ненулевым кодом или не запустился.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг не выполнялся, потому что run остановлен раньше.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}
