// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI — клиентская утилита для Conveyor API: запуск pipelines,
// статус executions с их Context, управление schedules.
// Команды API-групп работают через HTTP и не импортируют серверные пакеты.
//
// Исключение — группа local: она собирает pipeline из конфигурации
// (internal/config) и выполняет его в текущем процессе через engine.Runner.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	execs, err := client.ListExecutions(cli.ListExecutionsOpts{Status: "RUNNING"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor execution list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - execution: list, start, show, cancel
//   - pipeline: list, show
//   - schedule: list, create, show, update, delete, enable, disable
//   - local: plan, run, publish (триггер прямо в RabbitMQ)
//
// Каждая группа создаётся через фабричную функцию (NewExecutionCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
