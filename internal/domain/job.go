package domain

// JobKind — тип внешнего job. Совпадает с именем стадии, которая его запускает.
type JobKind string

// Типы job.
const (
	JobKindIdentityResolution JobKind = "identity_resolution"
	JobKindDatasetImport      JobKind = "dataset_import"
	JobKindModelTraining      JobKind = "train_model"
	JobKindModelVersion       JobKind = "version_model"
	JobKindBatchInference     JobKind = "batch_inference"
)

// JobHandle — непрозрачный идентификатор запущенного job.
//
// Handle принадлежит стадии, которая его получила: poll с handle
// другого типа отклоняется.
type JobHandle struct {
	// ID — идентификатор job во внешнем сервисе.
	ID string `json:"id"`

	// Kind — тип job.
	Kind JobKind `json:"kind"`
}

// IsZero возвращает true для пустого handle.
func (h JobHandle) IsZero() bool {
	return h.ID == ""
}

// InvokeResult — результат запуска job (acceptance, не завершение).
type InvokeResult struct {
	// Handle — handle запущенного job. Пустой, если job не запускался (Skipped).
	Handle JobHandle `json:"handle"`

	// Skipped — запрошенная работа уже выполнена ранее.
	// Используется skip-ahead gate.
	Skipped bool `json:"skipped,omitempty"`

	// Completed — сервис сообщил isCompleted=true прямо в ответе на запуск.
	Completed bool `json:"completed,omitempty"`

	// Fields — полное тело ответа сервиса.
	Fields map[string]any `json:"fields,omitempty"`
}

// AlreadySatisfied возвращает true, если результат запуска говорит,
// что ждать нечего.
func (r InvokeResult) AlreadySatisfied() bool {
	return r.Skipped || r.Completed
}

// PollResult — результат одного poll.
type PollResult struct {
	// State — состояние job.
	State JobState `json:"state"`

	// FailureReason — причина отказа (только для JobFailed).
	FailureReason string `json:"failure_reason,omitempty"`

	// Fields — полное тело ответа сервиса.
	Fields map[string]any `json:"fields,omitempty"`
}
