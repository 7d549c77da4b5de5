// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (executions, schedules, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, metrics, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - execution_handler.go — обработчики для /executions
//   - pipeline_handler.go  — обработчики для /pipelines
//   - schedule_handler.go  — обработчики для /schedules
//
// API запускает pipelines, показывает статус executions с их Context
// и управляет расписаниями.
package api
