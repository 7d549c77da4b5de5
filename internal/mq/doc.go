// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление с ack/requeue/DLQ
//
// Типы сообщений:
//   - trigger             — внешний триггер запуска pipeline
//   - execution.pending   — execution создан, оркестратору пора его продвинуть
//   - execution.finished  — execution завершён (SUCCEEDED или FAILED)
package mq
