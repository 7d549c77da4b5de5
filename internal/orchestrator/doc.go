// Package orchestrator продвигает executions по pipeline.
//
// Каждый переход записывается в хранилище до следующего шага
// (write-ahead), с проверкой версии записи. Запуск стадии защищён
// маркером Invoking: после рестарта стадия, чей запуск не был
// подтверждён, не запускается повторно, а execution завершается
// с ErrInvokeIndeterminate.
package orchestrator
