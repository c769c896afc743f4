package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Executor — интерфейс для выполнения шага определённой категории.
//
// Реализации: CommandExecutor, CacheExecutor.
//
// req.Step содержит отрендеренный шаг. Инфраструктурные ошибки
// (бинарник не найден, хранилище недоступно) возвращаются через error,
// код завершения процесса — через ExecutionResult.ExitCode.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*ExecutionResult, error)
}

// PostExecutor — executor с фазой после успешного run.
//
// Post вызывается в порядке шагов, только если run завершился успешно.
// Ошибки Post логируются и не меняют статус run.
type PostExecutor interface {
	Executor
	Post(ctx context.Context, req *Request, res domain.StepResult) error
}

// Request — запрос на выполнение шага.
type Request struct {
	// Step — шаг с отрендеренными шаблонами.
	Step domain.Step

	// Dir — абсолютная рабочая директория шага.
	Dir string

	// Env — итоговое окружение процесса в формате KEY=VALUE.
	Env []string

	// Template — контекст шаблонов run (runner, событие, результаты шагов).
	Template *engine.Context

	// Output — куда дублировать вывод процесса (может быть nil).
	Output io.Writer
}

// ExecutionResult — результат выполнения шага.
type ExecutionResult struct {
	// ExitCode — код завершения процесса.
	ExitCode int

	// Output — захваченный stdout+stderr.
	Output string

	// Outputs — структурированные выходные данные.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Failed возвращает true, если шаг завершился неуспешно.
func (r *ExecutionResult) Failed() bool {
	return r.ExitCode != 0 || r.Error != ""
}

// Registry — реестр executor'ов по категории шага.
type Registry struct {
	executors map[domain.StepKind]Executor
}

// NewRegistry создаёт реестр с executor'ами по умолчанию.
//
// Регистрирует CommandExecutor для toolchain, tool-install, checkout,
// build, audit, command и CacheExecutor поверх store для cache.
// store может быть nil — тогда кэш всегда промахивается.
func NewRegistry(store cache.Store) *Registry {
	r := &Registry{executors: make(map[domain.StepKind]Executor)}

	cmd := &CommandExecutor{}
	for _, kind := range []domain.StepKind{
		domain.StepKindToolchain,
		domain.StepKindToolInstall,
		domain.StepKindCheckout,
		domain.StepKindBuild,
		domain.StepKindAudit,
		domain.StepKindCommand,
	} {
		r.Register(kind, cmd)
	}
	r.Register(domain.StepKindCache, &CacheExecutor{Store: store})
	return r
}

// Register добавляет executor для категории шага.
func (r *Registry) Register(kind domain.StepKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для категории шага.
func (r *Registry) Get(kind domain.StepKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepKind, kind)
	}
	return executor, nil
}
