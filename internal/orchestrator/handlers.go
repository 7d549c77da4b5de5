package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// handleTrigger создаёт execution из внешнего триггера (triggers.inbound).
func (o *Orchestrator) handleTrigger(ctx context.Context, msg *mq.Message) error {
	trigger, err := mq.ParsePayload[domain.Trigger](msg)
	if err != nil {
		return mq.Reject(err)
	}
	if trigger.Source == "" {
		trigger.Source = "mq"
	}
	if trigger.IdempotencyKey == "" {
		// Повторная доставка того же сообщения не создаёт второй execution
		trigger.IdempotencyKey = "mq_" + msg.ID
	}

	exec, created, err := o.StartExecution(ctx, trigger)
	if errors.Is(err, ErrUnknownPipeline) {
		return mq.Reject(err)
	}
	if err != nil {
		return err
	}

	if !created {
		o.logger.Debug("duplicate trigger, execution exists",
			"execution_id", exec.ID,
			"idempotency_key", trigger.IdempotencyKey,
		)
	}
	return nil
}

// handleExecutionPending будит tick loop (executions.pending).
// Сообщение — только сигнал: какие executions продвигать, решает ClaimDue.
func (o *Orchestrator) handleExecutionPending(_ context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.ExecutionPendingPayload](msg)
	if err != nil {
		return mq.Reject(err)
	}
	o.logger.Debug("received execution.pending", "execution_id", payload.ExecutionID)
	o.kick()
	return nil
}
