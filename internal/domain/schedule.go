package domain

import "time"

// Schedule — cron-расписание запуска pipeline (секция on.schedule).
//
// Scheduler держит расписания в памяти: при загрузке pipeline
// вычисляет NextDueAt и создаёт run, когда время подошло.
type Schedule struct {
	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 3 * * *"     — каждый день в 3:00
	//   "*/30 * * * *"  — каждые 30 минут
	CronExpr string `yaml:"cron" json:"cron"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	// Branch — ветка, которую собирает плановый run.
	// По умолчанию — первая ветка из on.push.branches.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `yaml:"-" json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `yaml:"-" json:"last_run_at,omitempty"`
}

// IsDue проверяет, пора ли запускать pipeline.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.NextDueAt != nil && !now.Before(*s.NextDueAt)
}

// MarkRun фиксирует запуск и новое время следующего срабатывания.
func (s *Schedule) MarkRun(now, next time.Time) {
	s.LastRunAt = &now
	s.NextDueAt = &next
}
