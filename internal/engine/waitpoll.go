package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultPollInterval — интервал между poll по умолчанию.
const DefaultPollInterval = 30 * time.Second

// Outcome — итог одной итерации WaitPollLoop.
type Outcome int

const (
	// OutcomePending — job ещё не завершён (или poll временно недоступен).
	OutcomePending Outcome = iota

	// OutcomeComplete — предикат завершения выполнен.
	OutcomeComplete

	// OutcomeFailed — job перешёл в состояние отказа.
	OutcomeFailed
)

// String возвращает имя исхода для логов.
func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// CheckResult — результат одной итерации.
type CheckResult struct {
	// Outcome — исход итерации.
	Outcome Outcome

	// Result — последний успешный ответ poll.
	Result domain.PollResult

	// Attempts — количество вызовов Poll в этой итерации (с retry).
	Attempts int

	// TransientErr — последняя временная ошибка, если все попытки
	// итерации исчерпаны. Outcome при этом OutcomePending.
	TransientErr error
}

// SleepFunc ждёт d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// WaitPollLoop — общий примитив "ждать, опросить, ветвиться".
//
// Один экземпляр на стадию с poll. Состояния между итерациями нет:
// оркестратор вызывает Check по одному разу на пробуждение, а Run
// крутит цикл в памяти для локального запуска.
type WaitPollLoop struct {
	// Key — ключ Context, куда сливается результат.
	Key string

	// Kind — тип handle, который принимает loop.
	Kind domain.JobKind

	// Poller — операция poll.
	Poller Poller

	// Completed — предикат завершения (default: Succeeded).
	Completed CompletionFunc

	// Interval — пауза перед каждым poll (default: 30s).
	Interval time.Duration

	// Retry — повторы временных ошибок внутри итерации.
	Retry RetryPolicy

	// Sleep — функция ожидания (default: таймер с учётом ctx).
	Sleep SleepFunc
}

// Check выполняет одну итерацию: poll и классификацию результата.
//
// Временные ошибки повторяются по Retry. Если попытки исчерпаны,
// итерация считается незавершённой (OutcomePending, TransientErr != nil).
// Ошибка возвращается только для постоянных проблем: чужой handle или
// не-временная ошибка poll.
func (l *WaitPollLoop) Check(ctx context.Context, handle domain.JobHandle) (CheckResult, error) {
	if l.Kind != "" && handle.Kind != l.Kind {
		return CheckResult{}, fmt.Errorf("%w: loop %s got %s handle", ErrHandleMismatch, l.Kind, handle.Kind)
	}

	attempts := l.Retry.Attempts()
	var res CheckResult

	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		result, err := l.Poller.Poll(ctx, handle)
		if err == nil {
			res.Result = result
			res.TransientErr = nil
			res.Outcome = l.classify(result)
			return res, nil
		}

		if !IsTransient(err) {
			return res, fmt.Errorf("%w: %w", ErrPoll, err)
		}
		res.TransientErr = err

		if attempt == attempts {
			break
		}
		if err := l.sleep(ctx, l.Retry.Delay(attempt)); err != nil {
			return res, err
		}
	}

	res.Outcome = OutcomePending
	return res, nil
}

// Run крутит цикл sleep → poll → branch, пока job не завершится.
//
// На завершении cont вызывается ровно один раз с последним результатом.
// Отказ job возвращает ErrJobFailed, временные ошибки только продлевают
// ожидание. Возвращает количество вызовов Poll.
func (l *WaitPollLoop) Run(ctx context.Context, handle domain.JobHandle, cont func(domain.PollResult) error) (int, error) {
	polls := 0
	for {
		if err := l.sleep(ctx, l.interval()); err != nil {
			return polls, err
		}

		res, err := l.Check(ctx, handle)
		polls += res.Attempts
		if err != nil {
			return polls, err
		}

		switch res.Outcome {
		case OutcomeComplete:
			if cont == nil {
				return polls, nil
			}
			return polls, cont(res.Result)
		case OutcomeFailed:
			return polls, JobFailure(res.Result)
		}
	}
}

func (l *WaitPollLoop) classify(r domain.PollResult) Outcome {
	if r.State == domain.JobFailed {
		return OutcomeFailed
	}
	completed := l.Completed
	if completed == nil {
		completed = Succeeded
	}
	if completed(r) {
		return OutcomeComplete
	}
	return OutcomePending
}

func (l *WaitPollLoop) interval() time.Duration {
	if l.Interval > 0 {
		return l.Interval
	}
	return DefaultPollInterval
}

func (l *WaitPollLoop) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep ждёт d или отмены ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// JobFailure строит ошибку отказа job с причиной от сервиса.
func JobFailure(r domain.PollResult) error {
	if r.FailureReason == "" {
		return ErrJobFailed
	}
	return fmt.Errorf("%w: %s", ErrJobFailed, r.FailureReason)
}
