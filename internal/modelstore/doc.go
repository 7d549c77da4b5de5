// Package modelstore хранит указатель на текущую версию модели
// и учёт последнего segment job.
//
// Это единственное состояние, общее для всех execution:
// version_model публикует версию (VersionPublisher), batch inference
// читает её и пропускает повторную работу (CurrentVersionInvoker).
package modelstore
