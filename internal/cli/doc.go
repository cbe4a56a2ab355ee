// Package cli реализует mmctl — инструмент командной строки metamigrate.
//
// # Обзор
//
// CLI работает с API по HTTP и не импортирует внутренние пакеты системы.
// Позволяет запустить workflow бэкапа и миграции, посмотреть состояние
// run с результатами шагов и дождаться завершения.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует запросы, разбор ответов
// ({"data": ...} и {"error": ...}) и ожидание завершения run.
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.StartRun(ctx, cli.StartRunRequest{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, служебные сообщения (Notice) — в stderr.
// Это позволяет использовать pipe: mmctl run list --json | jq .
//
// ## Commands
//
//   - run start [--database] [--wait]
//   - run show ID
//   - run list [--state] [--limit] [--offset]
//   - run wait ID
//
// run wait и run start --wait завершаются с ошибкой, если run упал.
package cli
