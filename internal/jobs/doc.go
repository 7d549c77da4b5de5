// Package jobs содержит HTTP-клиент внешних job-сервисов.
//
// Каждая стадия pipeline (identity resolution, импорт датасета,
// обучение, версионирование, batch inference) обращается к своему
// сервису с одинаковым контрактом start/status. Client реализует
// engine.Service.
package jobs
