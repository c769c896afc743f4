// Package scheduler запускает pipeline по cron-расписаниям из секции on.schedule.
//
// Scheduler держит расписания в памяти. При загрузке pipeline для каждого
// расписания вычисляется NextDueAt; Tick создаёт событие schedule для каждого
// наступившего расписания и передаёт его обработчику событий (Orchestrator).
//
// Структура:
//   - scheduler.go — Scheduler: Load, Tick, Run
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Handler: orch,
//	    Logger:  logger,
//	})
//	if err := sched.Load(pipeline); err != nil {
//	    return err
//	}
//	go sched.Run(ctx)
package scheduler
