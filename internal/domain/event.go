package domain

import (
	"strings"
	"time"
)

// EventType — тип события-триггера.
type EventType string

const (
	// EventPush — push в ветку.
	EventPush EventType = "push"

	// EventPullRequest — переход жизненного цикла pull request.
	EventPullRequest EventType = "pull_request"

	// EventSchedule — срабатывание cron-расписания.
	EventSchedule EventType = "schedule"

	// EventManual — ручной запуск через API/CLI.
	EventManual EventType = "manual"
)

// Event — событие внешней платформы, которое может запустить pipeline.
type Event struct {
	// Type — тип события.
	Type EventType `json:"type"`

	// Action — действие для pull_request: "opened", "synchronize", "reopened", "ready_for_review", ...
	Action string `json:"action,omitempty"`

	// Ref — git ref, например "refs/heads/master".
	Ref string `json:"ref,omitempty"`

	// BaseRef — целевая ветка pull request.
	BaseRef string `json:"base_ref,omitempty"`

	// SHA — коммит, который нужно собрать.
	SHA string `json:"sha,omitempty"`

	// Repository — URL или путь репозитория для checkout.
	Repository string `json:"repository,omitempty"`

	// ReceivedAt — время получения события.
	ReceivedAt time.Time `json:"received_at"`
}

// Branch возвращает имя ветки из Ref.
// "refs/heads/master" → "master"; прочие ref возвращаются как есть.
func (e Event) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}
