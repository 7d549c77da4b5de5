package jobs

import "errors"

// Ошибки клиента job-сервиса.
var (
	// ErrRequest — запрос к сервису не удалось построить или отправить.
	ErrRequest = errors.New("job service request failed")

	// ErrStatus — сервис ответил кодом ошибки.
	ErrStatus = errors.New("job service returned error status")

	// ErrDecode — тело ответа не является JSON-объектом.
	ErrDecode = errors.New("job service response is not a json object")
)
