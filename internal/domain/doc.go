// Package domain содержит модели данных Conveyor.
//
// Основные сущности:
//   - Execution — durable запись одного выполнения pipeline
//   - Context   — append-only документ результатов стадий
//   - JobHandle — handle внешнего job
//   - Trigger   — событие, запускающее execution
//   - Schedule  — расписание триггеров
//
// Пакет не зависит от инфраструктуры (БД, очереди, HTTP).
package domain
