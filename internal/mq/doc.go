// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - message.go    — конверт сообщения и payload'ы
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - event.trigger — внешнее событие (push, pull_request, schedule) для запуска pipeline
//   - run.finished  — run завершён (любой финальный статус)
//
// Exchanges:
//   - conveyor.events — входящие события
//   - conveyor.runs   — уведомления о runs
//   - conveyor.dlq    — dead letter queue
package mq
