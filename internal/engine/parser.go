package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Validate выполняет полную валидацию Pipeline.
//
// Проверяет:
// - Наличие имени, шагов и runner'ов
// - Уникальность ID шагов
// - Корректность категорий шагов
// - Наличие команды (run или command, но не оба)
// - Корректность секции cache
// - Корректность условий запуска
func Validate(p *domain.Pipeline) error {
	if p == nil {
		return ErrEmptySteps
	}

	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("", "name", "pipeline has no name", ErrEmptyName)
	}

	if len(p.Steps) == 0 {
		return ErrEmptySteps
	}

	if len(p.RunsOn) == 0 {
		return NewValidationError("", "runs_on", "pipeline has no runners", ErrNoRunners)
	}
	for i, label := range p.RunsOn {
		if strings.TrimSpace(label) == "" {
			return NewValidationError("", "runs_on",
				fmt.Sprintf("runner %d has empty label", i), ErrNoRunners)
		}
	}

	stepIDs := make(map[string]bool)
	for i := range p.Steps {
		if err := ValidateStep(&p.Steps[i], stepIDs); err != nil {
			return err
		}
	}

	return validateTriggers(&p.On)
}

// ValidateStep валидирует один шаг.
// stepIDs — уже встреченные ID шагов (для проверки уникальности).
func ValidateStep(step *domain.Step, stepIDs map[string]bool) error {
	if step.ID == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}

	if stepIDs[step.ID] {
		return NewValidationError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}
	stepIDs[step.ID] = true

	kind := step.EffectiveKind()
	if !kind.IsValid() {
		return NewValidationError(step.ID, "kind",
			fmt.Sprintf("unknown step kind: %s", step.Kind), ErrUnknownStepKind)
	}

	if kind == domain.StepKindCache {
		return validateCacheStep(step)
	}

	hasRun := strings.TrimSpace(step.Run) != ""
	hasCommand := len(step.Command) > 0
	switch {
	case hasRun && hasCommand:
		return NewValidationError(step.ID, "run",
			"step has both run and command", ErrAmbiguousCommand)
	case !hasRun && !hasCommand:
		return NewValidationError(step.ID, "run",
			"step has neither run nor command", ErrMissingCommand)
	}

	if step.Cache != nil {
		return NewValidationError(step.ID, "cache",
			"cache section is only allowed for kind=cache", ErrInvalidCacheSpec)
	}

	return nil
}

// validateCacheStep проверяет шаг кэша.
func validateCacheStep(step *domain.Step) error {
	if step.Cache == nil {
		return NewValidationError(step.ID, "cache",
			"cache step has no cache section", ErrInvalidCacheSpec)
	}
	if strings.TrimSpace(step.Cache.Key) == "" {
		return NewValidationError(step.ID, "cache.key",
			"cache step has empty key", ErrInvalidCacheSpec)
	}
	if len(step.Cache.Paths) == 0 {
		return NewValidationError(step.ID, "cache.paths",
			"cache step has no paths", ErrInvalidCacheSpec)
	}
	for i, p := range step.Cache.Paths {
		if strings.TrimSpace(p) == "" {
			return NewValidationError(step.ID, "cache.paths",
				fmt.Sprintf("cache path %d is empty", i), ErrInvalidCacheSpec)
		}
	}
	if step.Run != "" || len(step.Command) > 0 {
		return NewValidationError(step.ID, "run",
			"cache step must not have a command", ErrAmbiguousCommand)
	}
	return nil
}

// validateTriggers проверяет секцию on.
func validateTriggers(on *domain.Triggers) error {
	if on.PullRequest != nil {
		for _, t := range on.PullRequest.Types {
			if strings.TrimSpace(t) == "" {
				return NewValidationError("", "on.pull_request.types",
					"pull_request type is empty", ErrInvalidTrigger)
			}
		}
	}
	for i, s := range on.Schedule {
		if strings.TrimSpace(s.CronExpr) == "" {
			return NewValidationError("", "on.schedule",
				fmt.Sprintf("schedule %d has empty cron", i), ErrInvalidTrigger)
		}
	}
	return nil
}

// IsValidStepKind проверяет, является ли категория шага допустимой.
func IsValidStepKind(kind string) bool {
	return domain.StepKind(kind).IsValid()
}
