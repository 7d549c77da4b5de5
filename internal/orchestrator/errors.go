package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnknownPipeline — триггер ссылается на pipeline, которого нет в реестре.
	ErrUnknownPipeline = errors.New("unknown pipeline")

	// ErrInvokeIndeterminate — запуск стадии был начат, но его результат
	// не записан (процесс упал между invoke и записью handle).
	// Повторный invoke мог бы запустить job дважды, поэтому execution
	// завершается с ошибкой.
	ErrInvokeIndeterminate = errors.New("stage invocation outcome unknown after restart")

	// ErrTopologyChanged — pipeline изменился под сохранённым курсором.
	ErrTopologyChanged = errors.New("pipeline topology changed under persisted cursor")

	// ErrCancelled — execution отменён через Cancel.
	ErrCancelled = errors.New("execution cancelled")

	// ErrExecutionFinished — execution уже в терминальном статусе.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrSuperseded — запись изменена другим процессом (отмена или
	// другой оркестратор). Текущее продвижение прекращается.
	ErrSuperseded = errors.New("execution changed concurrently")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
