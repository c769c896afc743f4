// Package api реализует HTTP API Conveyor на go-chi.
//
// Маршруты:
//   - GET  /healthz                    — состояние сервера
//   - GET  /metrics                    — метрики Prometheus
//   - GET  /api/v1/pipeline            — текущий pipeline
//   - POST /api/v1/events              — событие-триггер (JSON или GitHub webhook)
//   - POST /api/v1/runs                — ручной запуск для ref/sha
//   - GET  /api/v1/runs                — список runs (status, pipeline, limit, offset)
//   - GET  /api/v1/runs/{id}           — run с результатами шагов
//   - GET  /api/v1/runs/{id}/steps     — результаты шагов run
//   - POST /api/v1/runs/{id}/cancel    — отмена выполняющегося run
package api
