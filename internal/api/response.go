package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500. Причина пишется в лог запроса,
// клиенту уходит только общий текст.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.FromContext(r.Context()).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorStatuses сопоставляет ошибки хранилища и оркестратора с ответами.
// Порядок важен: первое совпадение по errors.Is.
var errorStatuses = []struct {
	target error
	status int
	code   ErrorCode
}{
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrUnknownPipeline, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
	{repo.ErrConflict, http.StatusConflict, ErrCodeConflict},
	{repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{orchestrator.ErrExecutionFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState},
}

// HandleError отвечает на ошибку хранилища или оркестратора.
// notFoundMsg заменяет текст repo.ErrNotFound, если задан.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	for _, e := range errorStatuses {
		if !errors.Is(err, e.target) {
			continue
		}
		message := err.Error()
		if e.target == repo.ErrNotFound && notFoundMsg != "" {
			message = notFoundMsg
		}
		Error(w, e.status, e.code, message)
		return true
	}

	InternalError(w, r, err)
	return true
}
