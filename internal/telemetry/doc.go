// Package telemetry обеспечивает наблюдаемость сервисов.
//
// Включает:
//   - logging.go — structured logging: slog API, zap в качестве backend
//   - metrics.go — Prometheus метрики workflow и ops mux (/healthz, /metrics)
package telemetry
