// Package worker выполняет шаги workflow.
//
// # Обзор
//
// Worker — stateless компонент: получает StepInvocation из очереди
// steps.ready, вызывает внешний шаг и публикует StepResult в
// steps.completed. Повторов нет, каждый вызов выполняется не более
// одного раза. Экземпляры масштабируются горизонтально.
//
// # Executor
//
//	type Executor interface {
//	    Execute(ctx context.Context, inv *domain.StepInvocation) (*Outcome, error)
//	}
//
// Реализации:
//   - StateMachineExecutor — AWS Step Functions (шаг бэкапа)
//   - LambdaExecutor — AWS Lambda (шаг миграции)
//   - HTTPExecutor — JSON POST, для локальной разработки
//
// # Классификация ошибок
//
// Runner превращает исход в StepResult:
//   - истёк таймаут шага → STEP_TIMEOUT
//   - вызов не удалось отправить (ErrInvoke, неизвестный target) → INVOKE_ERROR
//   - шаг сообщил о неуспехе (Outcome.Error) → STEP_FAILED
//
// # Повторная доставка
//
// Если сообщение пришло повторно (worker упал посреди шага), вызов
// повторяется только для executor'ов, реализующих Idempotent. Для
// остальных публикуется неуспех без повторного вызова.
//
// # Local
//
// Local выполняет шаги в процессе оркестратора без RabbitMQ.
package worker
