// Package orchestrator превращает события в runs и выполняет их.
//
// Для принятого события (push, pull_request, schedule, manual) создаётся
// по одному run на каждую метку runs_on. Каждый run выполняется Runner'ом
// в собственной рабочей директории <workspace_root>/<run-id>, число
// одновременных run ограничено семафором.
//
// Структура:
//   - orchestrator.go — HandleEvent, Trigger, Cancel, Shutdown
//   - execute.go      — выполнение run и сохранение результата
//   - handlers.go     — обработчик сообщений event.trigger из RabbitMQ
//   - pipeline.go     — PipelineSource: текущий pipeline и hot reload (fsnotify)
package orchestrator
