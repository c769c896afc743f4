package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// Orchestrator — операции запуска run, которые использует API.
// Реализация: *orchestrator.Orchestrator.
type Orchestrator interface {
	Pipeline() *domain.Pipeline
	HandleEvent(ctx context.Context, ev domain.Event) ([]*domain.Run, trigger.Decision, error)
	Trigger(ctx context.Context, ref, sha string) ([]*domain.Run, error)
	Cancel(runID uuid.UUID) error
	ActiveRuns() int
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs     repo.RunStore
	orch     Orchestrator
	gatherer prometheus.Gatherer
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	webhookSecret string
	repository    string
	allowForeign  bool
}

// Config — конфигурация для создания Handler.
type Config struct {
	// Runs — хранилище истории run.
	Runs repo.RunStore

	// Orchestrator — запуск и отмена run.
	Orchestrator Orchestrator

	// Gatherer — источник метрик для /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Metrics — счётчики HTTP запросов (опционально).
	Metrics *telemetry.Metrics

	// WebhookSecret — секрет подписи X-Hub-Signature-256 для POST /api/v1/events.
	// Пустой — подпись не проверяется.
	WebhookSecret string

	// Repository — единственный репозиторий, который могут указывать события.
	Repository string

	// AllowForeignRepositories снимает ограничение Repository.
	AllowForeignRepositories bool

	// Logger
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		runs:     cfg.Runs,
		orch:     cfg.Orchestrator,
		gatherer: gatherer,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "api"),

		webhookSecret: cfg.WebhookSecret,
		repository:    cfg.Repository,
		allowForeign:  cfg.AllowForeignRepositories,
	}
}
