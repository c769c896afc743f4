package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrStopped — оркестратор остановлен и не принимает события.
	ErrStopped = errors.New("orchestrator stopped")

	// ErrRunNotActive — run не выполняется сейчас (уже завершён или не существует).
	ErrRunNotActive = errors.New("run not active")

	// ErrInvalidEvent — событие без типа.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnexpectedMessage — сообщение неподдерживаемого типа.
	ErrUnexpectedMessage = errors.New("unexpected message type")
)
