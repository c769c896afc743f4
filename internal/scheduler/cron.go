package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// cronParser — парсер стандартных пятипольных cron-выражений
// и дескрипторов вида @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CalculateNextDue вычисляет следующее время срабатывания после from
// в часовом поясе расписания. Результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := location(sched.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	schedule, err := cronParser.Parse(sched.CronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
	}

	return schedule.Next(from.In(loc)).UTC(), nil
}

// ValidateSchedule проверяет cron-выражение и часовой пояс.
func ValidateSchedule(sched *domain.Schedule) error {
	if _, err := cronParser.Parse(sched.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, err)
	}
	if _, err := location(sched.Timezone); err != nil {
		return err
	}
	return nil
}

// location возвращает часовой пояс; пустое имя — UTC.
func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
