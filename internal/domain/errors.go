package domain

import "errors"

// Ошибки Context.
var (
	// ErrEmptyContextKey — попытка открыть пустой ключ.
	ErrEmptyContextKey = errors.New("empty context key")

	// ErrContextKeyExists — ключ уже открыт другой (или той же) стадией.
	ErrContextKeyExists = errors.New("context key already exists")

	// ErrContextKeySealed — ключ запечатан, запись запрещена.
	ErrContextKeySealed = errors.New("context key is sealed")

	// ErrContextKeyUnknown — ключ не найден.
	ErrContextKeyUnknown = errors.New("context key not found")
)

// ContextError — ошибка операции над ключом Context.
type ContextError struct {
	Key string
	Err error
}

// Error реализует интерфейс error.
func (e *ContextError) Error() string {
	return "context key " + e.Key + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *ContextError) Unwrap() error {
	return e.Err
}
