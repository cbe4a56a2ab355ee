// Package scheduler запускает workflow по cron расписанию.
//
// Расписание одно и задаётся конфигурацией (SCHEDULE_CRON, SCHEDULE_TIMEZONE).
// На каждый наступивший момент расписания создаётся ровно один run с
// ключом идемпотентности schedule_<unix времени момента>, поэтому
// повторный тик или второй экземпляр не создадут дубликат.
//
// Структура:
//   - cron.go      — парсинг cron выражений и вычисление моментов запуска
//   - scheduler.go — Scheduler (Tick, Serve) и leader election
//
// Leader election:
//
// Serve вызывает Tick только пока держит Lock (pg_try_advisory_lock).
// Остальные экземпляры ждут и перехватывают лидерство при его потере.
package scheduler
