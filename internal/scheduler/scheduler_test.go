package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// recordingHandler запоминает полученные события.
type recordingHandler struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev domain.Event) ([]*domain.Run, trigger.Decision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if h.err != nil {
		return nil, trigger.Decision{}, h.err
	}
	return []*domain.Run{domain.NewRun("p", "ubuntu-latest", ev)}, trigger.Decision{Matched: true}, nil
}

func (h *recordingHandler) Events() []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Event(nil), h.events...)
}

var base = time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)

func schedPipeline(schedules ...domain.Schedule) *domain.Pipeline {
	return &domain.Pipeline{
		Name: "nightly",
		On: domain.Triggers{
			Push:     &domain.PushTrigger{Branches: []string{"release/*", "main"}},
			Schedule: schedules,
		},
		RunsOn: []string{"ubuntu-latest"},
		Steps:  []domain.Step{{ID: "audit", Kind: domain.StepKindAudit, Run: "cargo audit"}},
	}
}

func newScheduler(h EventHandler, now time.Time) *Scheduler {
	return New(Config{Handler: h, Now: func() time.Time { return now }})
}

func TestCalculateNextDue(t *testing.T) {
	tests := []struct {
		name  string
		sched domain.Schedule
		from  time.Time
		want  time.Time
	}{
		{
			name:  "daily at 3",
			sched: domain.Schedule{CronExpr: "0 3 * * *"},
			from:  base,
			want:  time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
		},
		{
			name:  "every 30 minutes",
			sched: domain.Schedule{CronExpr: "*/30 * * * *"},
			from:  base,
			want:  time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
		},
		{
			name:  "descriptor",
			sched: domain.Schedule{CronExpr: "@daily"},
			from:  base,
			want:  time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "timezone",
			sched: domain.Schedule{CronExpr: "0 3 * * *", Timezone: "Europe/Moscow"},
			from:  base,
			want:  time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateNextDue(&tt.sched, tt.from)
			if err != nil {
				t.Fatalf("CalculateNextDue: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule(&domain.Schedule{CronExpr: "0 3 * * *"}); err != nil {
		t.Errorf("valid schedule: %v", err)
	}
	if err := ValidateSchedule(&domain.Schedule{CronExpr: "every day"}); err == nil {
		t.Error("expected error for bad cron")
	}
	if err := ValidateSchedule(&domain.Schedule{CronExpr: "0 3 * * *", Timezone: "Mars/Olympus"}); err == nil {
		t.Error("expected error for bad timezone")
	}
}

func TestLoad(t *testing.T) {
	s := newScheduler(&recordingHandler{}, base)

	err := s.Load(schedPipeline(
		domain.Schedule{CronExpr: "0 3 * * *"},
		domain.Schedule{CronExpr: "0 4 * * *", Branch: "develop"},
	))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := s.Schedules()
	if len(got) != 2 {
		t.Fatalf("schedules = %d, want 2", len(got))
	}
	if got[0].Branch != "main" {
		t.Errorf("default branch = %q, want first literal push branch", got[0].Branch)
	}
	if got[1].Branch != "develop" {
		t.Errorf("explicit branch = %q", got[1].Branch)
	}
	if got[0].NextDueAt == nil || !got[0].NextDueAt.Equal(time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("NextDueAt = %v", got[0].NextDueAt)
	}

	if err := s.Load(schedPipeline(domain.Schedule{CronExpr: "bad"})); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if len(s.Schedules()) != 2 {
		t.Error("failed Load replaced schedules")
	}

	if err := s.Load(schedPipeline()); err != nil {
		t.Fatalf("Load without schedules: %v", err)
	}
	if len(s.Schedules()) != 0 {
		t.Error("schedules not cleared")
	}
}

func TestTick(t *testing.T) {
	h := &recordingHandler{}
	s := newScheduler(h, base)
	if err := s.Load(schedPipeline(domain.Schedule{CronExpr: "0 3 * * *"})); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if n := s.Tick(context.Background(), base.Add(10*time.Minute)); n != 0 {
		t.Errorf("Tick before due created %d runs", n)
	}
	if len(h.Events()) != 0 {
		t.Fatalf("events before due: %v", h.Events())
	}

	due := time.Date(2024, 3, 10, 3, 0, 5, 0, time.UTC)
	if n := s.Tick(context.Background(), due); n != 1 {
		t.Errorf("Tick at due created %d runs, want 1", n)
	}

	events := h.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != domain.EventSchedule || ev.Ref != "refs/heads/main" || ev.Action != "0 3 * * *" {
		t.Errorf("event = %+v", ev)
	}

	sched := s.Schedules()[0]
	if sched.LastRunAt == nil || !sched.LastRunAt.Equal(due) {
		t.Errorf("LastRunAt = %v", sched.LastRunAt)
	}
	if !sched.NextDueAt.Equal(time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("NextDueAt = %v", sched.NextDueAt)
	}

	// Повторный Tick в то же время не создаёт дубликат.
	s.Tick(context.Background(), due)
	if len(h.Events()) != 1 {
		t.Errorf("duplicate event on repeated Tick")
	}
}

func TestTick_MissedRunsAreNotReplayed(t *testing.T) {
	h := &recordingHandler{}
	s := newScheduler(h, base)
	if err := s.Load(schedPipeline(domain.Schedule{CronExpr: "0 * * * *"})); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.Tick(context.Background(), base.Add(5*time.Hour))
	if len(h.Events()) != 1 {
		t.Errorf("events = %d, want 1", len(h.Events()))
	}
}

func TestTick_HandlerErrorAdvancesSchedule(t *testing.T) {
	h := &recordingHandler{err: errors.New("store down")}
	s := newScheduler(h, base)
	if err := s.Load(schedPipeline(domain.Schedule{CronExpr: "0 3 * * *"})); err != nil {
		t.Fatalf("Load: %v", err)
	}

	due := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	if n := s.Tick(context.Background(), due); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
	if s.Schedules()[0].IsDue(due) {
		t.Error("schedule still due after failed Tick")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(Config{Handler: &recordingHandler{}, Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
