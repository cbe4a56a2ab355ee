// Package orchestrator ведёт workflow "бэкап, затем миграция".
//
// Orchestrator отвечает за:
//   - Создание runs и выдачу первого вызова (бэкап)
//   - Применение результатов шагов по фиксированной таблице переходов
//   - Вызов миграции только после успешного бэкапа в том же run
//   - Перевод run в FAILED при ошибке или таймауте шага, без повторов
//   - Подхват runs, созданных другими процессами (run.pending, polling)
//
// Каждый переход сохраняется через compare-and-swap по (state, invocation),
// поэтому несколько реплик и поздние результаты не применяют переход дважды.
package orchestrator
