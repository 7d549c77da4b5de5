package engine

import (
	"errors"
	"fmt"
)

// Ошибки выполнения стадий.
var (
	// ErrInvocation — запуск job завершился ошибкой. Execution прерывается.
	ErrInvocation = errors.New("stage invocation failed")

	// ErrPollTransient — временная ошибка poll (транспорт, 5xx).
	// Повторяется внутри итерации, execution не прерывает.
	ErrPollTransient = errors.New("transient poll error")

	// ErrPoll — постоянная ошибка poll (например, job не найден).
	ErrPoll = errors.New("poll failed")

	// ErrJobFailed — внешний job перешёл в состояние отказа.
	ErrJobFailed = errors.New("external job failed")

	// ErrFinalize — финализация результата стадии не удалась.
	ErrFinalize = errors.New("stage finalization failed")

	// ErrHandleMismatch — handle выдан стадией другого типа.
	ErrHandleMismatch = errors.New("job handle kind does not match poller")

	// ErrMissingJobID — сервис принял запуск, но не вернул jobId.
	ErrMissingJobID = errors.New("invoke result has no job id")

	// ErrTopologyOutOfRange — индекс стадии вне pipeline.
	ErrTopologyOutOfRange = errors.New("stage index out of range")
)

// Ошибки конфигурации pipeline.
var (
	// ErrMissingService — для включённой стадии не настроен сервис.
	ErrMissingService = errors.New("service is not configured")

	// ErrMissingDependency — стадии нужен ресурс, которого нет в этой топологии.
	ErrMissingDependency = errors.New("stage depends on an absent subsystem")

	// ErrDuplicateStage — несколько стадий с одинаковым именем или ключом.
	ErrDuplicateStage = errors.New("duplicate stage")

	// ErrEmptyStageName — стадия без имени.
	ErrEmptyStageName = errors.New("stage has empty name")

	// ErrUnknownInput — input path указывает на стадию, которой нет раньше в цепочке.
	ErrUnknownInput = errors.New("stage input refers to unknown stage")
)

// StageError — ошибка, прервавшая execution на конкретной стадии.
type StageError struct {
	Stage string // имя стадии
	Err   error  // базовая ошибка (оборачивает один из sentinel)
}

// Error реализует интерфейс error.
func (e *StageError) Error() string {
	return "stage " + e.Stage + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *StageError) Unwrap() error {
	return e.Err
}

// stageError оборачивает err в StageError с sentinel kind.
func stageError(stage string, kind, err error) *StageError {
	if err == nil {
		return &StageError{Stage: stage, Err: kind}
	}
	if errors.Is(err, kind) {
		return &StageError{Stage: stage, Err: err}
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, err)}
}

// FailedStage извлекает имя стадии из ошибки. Пустая строка,
// если ошибка не связана со стадией.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ConfigurationError — ошибка сборки pipeline.
// Возвращается при сборке, до запуска любого execution.
type ConfigurationError struct {
	Stage   string // стадия, где обнаружена ошибка
	Field   string // поле конфигурации
	Message string // описание
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ConfigurationError) Error() string {
	if e.Stage != "" {
		return "configuration: stage " + e.Stage + ": " + e.Message
	}
	return "configuration: " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError создаёт ошибку конфигурации.
func NewConfigurationError(stage, field, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Stage:   stage,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Transient помечает ошибку poll как временную.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrPollTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPollTransient, err)
}

// IsTransient проверяет, временная ли ошибка.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPollTransient)
}
