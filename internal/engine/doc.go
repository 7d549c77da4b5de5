// Package engine содержит движок стадий pipeline.
//
// Включает:
//   - stage.go    — StageDescriptor и контракты Invoker / Poller / Finalizer
//   - waitpoll.go — WaitPollLoop: sleep → poll → branch
//   - pipeline.go — Pipeline (массив стадий с индексами Next), шаги InvokeStage и CompleteStage
//   - builder.go  — сборка топологии из флагов
//   - runner.go   — выполнение pipeline в памяти
//   - retry.go    — повторы временных ошибок poll
//
// Engine не знает о хранилище: durable выполнение (suspend/resume
// между poll) реализует пакет orchestrator поверх тех же шагов.
package engine
