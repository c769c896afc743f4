// Package cli реализует команды утилиты conveyor.
//
// # Обзор
//
// Команды делятся на две группы:
//   - локальные: run, validate, cache-key, pipeline show. Выполняют pipeline
//     на текущей машине через runner, без сервера.
//   - удалённые: runs, trigger, event. Работают с conveyor-server через HTTP
//     API или RabbitMQ.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (*APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(ctx, cli.ListRunsOpts{Status: "FAILED"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) и логи — в stderr.
// Это позволяет использовать pipe: conveyor runs list --json | jq .
//
// ## Код завершения
//
// conveyor run возвращает *ExitError с кодом 1, если упал обязательный шаг.
//
// Каждая группа создаётся через фабричную функцию (NewRunsCmd и т.д.),
// принимающую clientFn, cfgFn и outputFn — замыкания для ленивого создания
// Client, Config и Output после парсинга PersistentFlags.
package cli
