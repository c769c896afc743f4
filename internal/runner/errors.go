package runner

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Категории отказа шагов.
//
// Каждая категория соответствует StepKind; StepError оборачивает
// нужную категорию, поэтому errors.Is(err, ErrAuditFinding) отличает
// найденную уязвимость от сломанной сборки.
var (
	// ErrToolchainInstall — не удалось установить toolchain.
	ErrToolchainInstall = errors.New("toolchain install failed")

	// ErrCacheMiss — кэш не найден или не восстановлен. Не фатальна.
	ErrCacheMiss = errors.New("cache miss")

	// ErrToolInstall — не удалось установить вспомогательную утилиту.
	ErrToolInstall = errors.New("tool install failed")

	// ErrCheckout — не удалось получить исходники.
	ErrCheckout = errors.New("checkout failed")

	// ErrBuild — сборка завершилась ошибкой.
	ErrBuild = errors.New("build failed")

	// ErrAuditFinding — аудит нашёл известную уязвимость (или не смог отработать).
	ErrAuditFinding = errors.New("audit reported findings")

	// ErrStepFailed — произвольная команда завершилась ошибкой.
	ErrStepFailed = errors.New("step failed")
)

// Ошибки runner'а.
var (
	// ErrUnknownStepKind — нет executor'а для категории шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrInvalidRunContext — не задан RunContext или workspace.
	ErrInvalidRunContext = errors.New("invalid run context")

	// ErrRunCancelled — run прерван извне.
	ErrRunCancelled = errors.New("run cancelled")
)

// kindErrors — категория отказа для каждого StepKind.
var kindErrors = map[domain.StepKind]error{
	domain.StepKindToolchain:   ErrToolchainInstall,
	domain.StepKindCache:       ErrCacheMiss,
	domain.StepKindToolInstall: ErrToolInstall,
	domain.StepKindCheckout:    ErrCheckout,
	domain.StepKindBuild:       ErrBuild,
	domain.StepKindAudit:       ErrAuditFinding,
	domain.StepKindCommand:     ErrStepFailed,
}

// KindError возвращает категорию отказа для StepKind.
func KindError(kind domain.StepKind) error {
	if err, ok := kindErrors[kind]; ok {
		return err
	}
	return ErrStepFailed
}

// StepError — отказ конкретного шага.
type StepError struct {
	StepID   string          // ID упавшего шага
	Kind     domain.StepKind // категория шага
	ExitCode int             // код завершения процесса
	Output   string          // захваченный вывод
	Err      error           // категория отказа
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	if e.ExitCode == domain.ExitCodeNotRun {
		return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("step %s: %v (exit code %d)", e.StepID, e.Err, e.ExitCode)
}

// Unwrap возвращает категорию отказа.
func (e *StepError) Unwrap() error {
	return e.Err
}

// FailureOf возвращает причину неуспеха run.
//
// Для FAILED — *StepError упавшего шага с категорией по его StepKind.
// Для CANCELLED — *StepError прерванного шага, оборачивающий ErrRunCancelled.
// Для остальных статусов — nil.
func FailureOf(run *domain.Run) error {
	if run == nil {
		return nil
	}

	switch run.Status {
	case domain.RunStatusFailed:
		stepErr := &StepError{
			StepID:   run.FailedStep,
			Kind:     run.FailureKind,
			ExitCode: domain.ExitCodeNotRun,
			Err:      KindError(run.FailureKind),
		}
		if res, ok := run.StepResult(run.FailedStep); ok {
			stepErr.ExitCode = res.ExitCode
			stepErr.Output = res.Output
		}
		return stepErr

	case domain.RunStatusCancelled:
		stepErr := &StepError{ExitCode: domain.ExitCodeNotRun, Err: ErrRunCancelled}
		for _, res := range run.Steps {
			if res.Status == domain.StepStatusFailed {
				stepErr.StepID = res.StepID
				stepErr.Kind = res.Kind
				stepErr.ExitCode = res.ExitCode
				stepErr.Output = res.Output
			}
		}
		return stepErr

	default:
		return nil
	}
}
