// Package runner выполняет pipeline.
//
// Runner проходит по упорядоченному списку шагов строго последовательно:
//   - рендерит шаблоны шага (engine.RenderStep)
//   - собирает окружение: процесс ← run ← шаг
//   - вызывает executor, зарегистрированный для категории шага
//   - останавливается на первом упавшем обязательном шаге,
//     оставшиеся шаги получают статус SKIPPED
//
// Executor'ы:
//   - CommandExecutor — внешние команды (toolchain, tool-install, checkout, build, audit, command)
//   - CacheExecutor   — восстановление и сохранение кэша зависимостей
package runner
