package engine

import "errors"

// Ошибки валидации Pipeline.
var (
	// ErrEmptyName — pipeline не имеет имени.
	ErrEmptyName = errors.New("pipeline has no name")

	// ErrEmptySteps — pipeline не содержит шагов.
	ErrEmptySteps = errors.New("pipeline has no steps")

	// ErrNoRunners — не задана ни одна метка runner'а.
	ErrNoRunners = errors.New("pipeline has no runners")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepKind — неизвестная категория шага.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrMissingCommand — у шага нет ни run, ни command.
	ErrMissingCommand = errors.New("step has no command")

	// ErrAmbiguousCommand — у шага заданы и run, и command.
	ErrAmbiguousCommand = errors.New("step has both run and command")

	// ErrInvalidCacheSpec — некорректная секция cache.
	ErrInvalidCacheSpec = errors.New("invalid cache spec")

	// ErrInvalidTrigger — некорректная секция on.
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
