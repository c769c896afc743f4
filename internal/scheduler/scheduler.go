package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// defaultInterval — период Tick по умолчанию.
const defaultInterval = 15 * time.Second

// defaultBranch — ветка плановых run, если pipeline не задаёт ни одной.
const defaultBranch = "master"

// EventHandler принимает события расписания.
// Реализация: *orchestrator.Orchestrator.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event) ([]*domain.Run, trigger.Decision, error)
}

// Scheduler — планировщик, создающий события schedule по cron-расписаниям.
type Scheduler struct {
	handler  EventHandler
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	schedules []domain.Schedule
}

// Config — конфигурация Scheduler.
type Config struct {
	// Handler — получатель событий schedule.
	Handler EventHandler

	// Interval — период проверки расписаний (default: 15s).
	Interval time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Scheduler без расписаний.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		handler:  cfg.Handler,
		interval: interval,
		now:      now,
		logger:   logger.With("component", "scheduler"),
	}
}

// Load заменяет расписания расписаниями pipeline и вычисляет NextDueAt.
// При ошибке текущие расписания не меняются.
func (s *Scheduler) Load(p *domain.Pipeline) error {
	now := s.now()
	schedules := make([]domain.Schedule, 0, len(p.On.Schedule))

	for _, sched := range p.On.Schedule {
		if err := ValidateSchedule(&sched); err != nil {
			return fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
		if sched.Branch == "" {
			sched.Branch = scheduleBranch(p)
		}
		next, err := CalculateNextDue(&sched, now)
		if err != nil {
			return err
		}
		sched.NextDueAt = &next
		sched.LastRunAt = nil
		schedules = append(schedules, sched)
	}

	s.mu.Lock()
	s.schedules = schedules
	s.mu.Unlock()

	for _, sched := range schedules {
		s.logger.Info("schedule loaded",
			"cron", sched.CronExpr,
			"timezone", sched.Timezone,
			"branch", sched.Branch,
			"next_due_at", sched.NextDueAt,
		)
	}
	return nil
}

// Schedules возвращает копию текущих расписаний.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Schedule(nil), s.schedules...)
}

// Tick обрабатывает расписания, время которых наступило к now.
//
// Для каждого такого расписания:
//  1. Создаёт событие schedule для ветки расписания
//  2. Передаёт его обработчику
//  3. Вычисляет следующее время срабатывания
//
// Пропущенные срабатывания (сервер был выключен, Tick опоздал) не
// догоняются: за один Tick расписание срабатывает не более одного раза.
// Ошибка обработчика не блокирует остальные расписания.
// Возвращает количество созданных run.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []int
	for i := range s.schedules {
		if s.schedules[i].IsDue(now) {
			due = append(due, i)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	created := 0
	for _, i := range due {
		s.mu.Lock()
		if i >= len(s.schedules) {
			s.mu.Unlock()
			break
		}
		sched := s.schedules[i]
		s.mu.Unlock()

		ev := domain.Event{
			Type:       domain.EventSchedule,
			Action:     sched.CronExpr,
			Ref:        "refs/heads/" + sched.Branch,
			ReceivedAt: now,
		}

		runs, _, err := s.handler.HandleEvent(ctx, ev)
		if err != nil {
			s.logger.Error("failed to handle scheduled event",
				"cron", sched.CronExpr,
				"error", err,
			)
		}
		created += len(runs)

		next, err := CalculateNextDue(&sched, now)
		if err != nil {
			s.logger.Error("failed to calculate next due", "cron", sched.CronExpr, "error", err)
			continue
		}

		s.mu.Lock()
		if i < len(s.schedules) && s.schedules[i].CronExpr == sched.CronExpr {
			s.schedules[i].MarkRun(now, next)
		}
		s.mu.Unlock()

		s.logger.Info("schedule fired",
			"cron", sched.CronExpr,
			"branch", sched.Branch,
			"runs", len(runs),
			"next_due_at", next,
		)
	}

	return created
}

// Run вызывает Tick каждые Interval до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval, "schedules", len(s.Schedules()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// scheduleBranch — ветка плановых run: первая ветка on.push без glob-символов.
func scheduleBranch(p *domain.Pipeline) string {
	if p.On.Push != nil {
		for _, b := range p.On.Push.Branches {
			if !trigger.IsPattern(b) {
				return b
			}
		}
	}
	return defaultBranch
}
