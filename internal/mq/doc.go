// Package mq — транспорт workflow поверх RabbitMQ.
//
// Оркестратор и воркеры обмениваются тремя сообщениями:
//
//	run.pending     api/trigger/scheduler → orchestrator   run создан, его надо начать
//	step.ready      orchestrator → worker                  вызвать шаг
//	step.completed  worker → orchestrator                  результат шага
//
// Сообщения persistent, consumer подтверждает их после обработки.
// Невалидные сообщения и ErrPermanent уходят в metamigrate.dlq,
// остальные ошибки возвращают сообщение в очередь. Соединение
// переподключается само, consumers переподписываются после reconnect.
package mq
