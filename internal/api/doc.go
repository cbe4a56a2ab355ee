// Package api — HTTP интерфейс к runs.
//
// Маршруты:
//
//	POST /api/v1/runs       запустить backup → migrate, 202 с новым run
//	GET  /api/v1/runs       список runs (state, limit, offset)
//	GET  /api/v1/runs/{id}  состояние run и результаты шагов
//
// Ответы в конверте {"data": ...} или {"error": {"code", "message"}}.
// Запуск не ждёт завершения workflow.
package api
