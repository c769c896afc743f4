// Package trigger решает, запускает ли событие pipeline.
//
// Включает:
//   - filter.go  — сопоставление события с секцией on pipeline
//   - webhook.go — разбор webhook-запросов платформы в domain.Event
package trigger
