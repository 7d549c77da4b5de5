package domain

// ExecutionStatus — статус выполнения pipeline.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED (ошибка стадии, отказ job или отмена)
type ExecutionStatus string

const (
	// ExecutionStatusPending — execution создан, первая стадия ещё не вызвана.
	ExecutionStatusPending ExecutionStatus = "PENDING"

	// ExecutionStatusRunning — execution в процессе (включая ожидание между poll).
	ExecutionStatusRunning ExecutionStatus = "RUNNING"

	// ExecutionStatusSucceeded — все стадии пройдены или сработал skip-ahead.
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"

	// ExecutionStatusFailed — execution завершён с ошибкой.
	ExecutionStatusFailed ExecutionStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// ParseExecutionStatus парсит строку в ExecutionStatus.
// Возвращает false для неизвестных значений.
func ParseExecutionStatus(s string) (ExecutionStatus, bool) {
	switch ExecutionStatus(s) {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusSucceeded, ExecutionStatusFailed:
		return ExecutionStatus(s), true
	default:
		return "", false
	}
}

// JobState — состояние внешнего job с точки зрения poll.
//
//	pending → succeeded
//	        ↘ failed
type JobState string

const (
	// JobPending — job ещё выполняется (или статус неизвестен).
	JobPending JobState = "pending"

	// JobSucceeded — job успешно завершён.
	JobSucceeded JobState = "succeeded"

	// JobFailed — job завершён с ошибкой на стороне внешнего сервиса.
	JobFailed JobState = "failed"
)
