package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultTickInterval = time.Second
	defaultLease        = 2 * time.Minute
	defaultConcurrency  = 8
	defaultBatchSize    = 32
)

// Pipelines — реестр собранных pipeline.
type Pipelines interface {
	Get(name string) (*engine.Pipeline, bool)
	List() []*engine.Pipeline
}

// EventPublisher публикует события executions.
// Реализация: *mq.Publisher.
type EventPublisher interface {
	PublishExecutionPending(ctx context.Context, executionID uuid.UUID) error
	PublishExecutionFinished(ctx context.Context, exec *domain.Execution) error
}

// Orchestrator продвигает executions по их pipeline.
//
// Состояние execution живёт только в хранилище: каждый переход
// (вход в стадию, запуск job, poll, завершение) записывается до того,
// как Orchestrator переходит к следующему. Между poll в памяти ничего
// не держится, поэтому процесс можно перезапустить в любой момент.
//
// Источники работы:
//   - tick loop: захват due executions (next_wake_at <= now) с арендой
//   - executions.pending: немедленный tick
//   - triggers.inbound: создание execution из внешнего триггера
type Orchestrator struct {
	store     repo.ExecutionStore
	pipelines Pipelines
	publisher EventPublisher
	conn      *mq.Connection

	tickInterval time.Duration
	lease        time.Duration
	heartbeat    time.Duration
	concurrency  int
	batchSize    int

	now    func() time.Time
	logger *slog.Logger

	active *activeSet
	kickCh chan struct{}

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — хранилище executions.
	Store repo.ExecutionStore

	// Pipelines — реестр pipeline.
	Pipelines Pipelines

	// Publisher — публикация событий (optional).
	// Без него StartExecution будит локальный tick loop.
	Publisher EventPublisher

	// Conn — соединение RabbitMQ для consumers (optional).
	Conn *mq.Connection

	TickInterval time.Duration // интервал tick loop (default: 1s)
	Lease        time.Duration // аренда захваченного execution (default: 2m)
	Heartbeat    time.Duration // период продления аренды (default: Lease/3)
	Concurrency  int           // параллельно продвигаемых executions (default: 8)
	BatchSize    int           // executions за один tick (default: 32)

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:        cfg.Store,
		pipelines:    cfg.Pipelines,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		tickInterval: cfg.TickInterval,
		lease:        cfg.Lease,
		heartbeat:    cfg.Heartbeat,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		now:          cfg.Now,
		logger:       cfg.Logger,
		active:       newActiveSet(),
		kickCh:       make(chan struct{}, 1),
	}

	if o.tickInterval <= 0 {
		o.tickInterval = defaultTickInterval
	}
	if o.lease <= 0 {
		o.lease = defaultLease
	}
	if o.heartbeat <= 0 || o.heartbeat >= o.lease {
		o.heartbeat = o.lease / 3
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Start запускает tick loop и, если задано соединение, consumers
// triggers.inbound и executions.pending.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"tick_interval", o.tickInterval,
		"lease", o.lease,
		"concurrency", o.concurrency,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		consumers := []*mq.Consumer{
			mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
				Queue:    mq.QueueTriggersInbound,
				Handler:  o.handleTrigger,
				Prefetch: 10,
			}),
			mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
				Queue:    mq.QueueExecutionsPending,
				Handler:  o.handleExecutionPending,
				Prefetch: 10,
			}),
		}
		for _, c := range consumers {
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer stopped", "error", err)
				}
			}()
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения текущих шагов.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// ActiveCount возвращает количество executions, продвигаемых сейчас.
func (o *Orchestrator) ActiveCount() int {
	return o.active.len()
}

// kick запрашивает внеочередной tick.
func (o *Orchestrator) kick() {
	select {
	case o.kickCh <- struct{}{}:
	default:
	}
}

// pollLoop — tick по таймеру или по kick.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	// Первый tick сразу: подхватываем executions, оставшиеся после рестарта
	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.kickCh:
		}
		o.tick(ctx)
	}
}

// tick захватывает due executions и продвигает их параллельно.
// Каждое execution изолировано: ошибка одного не влияет на остальные.
func (o *Orchestrator) tick(ctx context.Context) int {
	executions, err := o.store.ClaimDue(ctx, o.now(), o.lease, o.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("failed to claim due executions", "error", err)
		}
		return 0
	}
	if len(executions) == 0 {
		return 0
	}
	o.logger.Debug("claimed due executions", "count", len(executions))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range executions {
		exec := &executions[i]
		g.Go(func() error {
			o.process(ctx, exec)
			return nil
		})
	}
	_ = g.Wait()

	return len(executions)
}

// process продвигает одно execution до приостановки или terminal.
func (o *Orchestrator) process(ctx context.Context, exec *domain.Execution) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !o.active.acquire(exec.ID, cancel) {
		return
	}
	defer o.active.release(exec.ID)

	logger := telemetry.WithExecutionID(o.logger, exec.ID.String()).With("pipeline", exec.Pipeline)

	stopHeartbeat := o.keepLease(ctx, exec, cancel, logger)
	defer stopHeartbeat()

	err := o.advance(ctx, exec, logger)
	switch {
	case err == nil:
	case errors.Is(err, ErrSuperseded):
		logger.Info("execution changed concurrently, dropping step")
	case ctx.Err() != nil:
		logger.Info("execution step interrupted", "reason", context.Cause(ctx))
	default:
		logger.Error("failed to advance execution", "error", err)
	}
}

// keepLease продлевает аренду exec, пока идёт шаг. Аренда продлевается
// только от значения, которое держит этот процесс: если её перехватил
// другой процесс или execution уже завершён, шаг прерывается.
//
// Возвращённая функция останавливает продление и ждёт горутину.
func (o *Orchestrator) keepLease(ctx context.Context, exec *domain.Execution, cancel context.CancelFunc, logger *slog.Logger) func() {
	if exec.LeaseUntil == nil {
		return func() {}
	}
	held := *exec.LeaseUntil
	storeCtx := context.WithoutCancel(ctx)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			// Шаг может дописываться после Stop, поэтому продление
			// не привязано к ctx процесса.
			until := o.now().Add(o.lease).Truncate(time.Microsecond)
			err := o.store.ExtendLease(storeCtx, exec.ID, held, until)
			switch {
			case err == nil:
				held = until
			case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrNotFound):
				logger.Info("lease no longer held, interrupting step")
				cancel()
				return
			default:
				logger.Warn("failed to extend lease", "error", err)
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
