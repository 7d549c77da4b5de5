package domain

// Имена pipeline.
const (
	// PipelineIntegration — основной pipeline: identity resolution и/или
	// цепочка рекомендаций, в зависимости от флагов.
	PipelineIntegration = "integration"

	// PipelineSegment — batch inference по запросу для текущей версии модели.
	PipelineSegment = "segment"
)

// Trigger — внешнее событие, которое запускает execution.
//
// Примеры:
//   - "новый батч данных доступен" → integration
//   - "нужен сегмент для item X"   → segment
type Trigger struct {
	// Pipeline — какой pipeline запускать.
	Pipeline string `json:"pipeline"`

	// Payload — начальное содержимое Context.
	Payload map[string]any `json:"payload,omitempty"`

	// IdempotencyKey — повторный триггер с тем же ключом вернёт
	// существующий execution.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Source — откуда пришёл триггер (api, mq, scheduler, cli).
	Source string `json:"source,omitempty"`
}
