package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// NewLocalCmd создаёт группу команд, которые работают без API:
// pipeline собирается из конфигурации и выполняется в текущем процессе.
func NewLocalCmd(outputFn func() *Output) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run pipelines in-process without the API",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $CONVEYOR_CONFIG)")

	cmd.AddCommand(
		newLocalPlanCmd(&configPath, outputFn),
		newLocalRunCmd(&configPath, outputFn),
		newLocalPublishCmd(outputFn),
	)
	return cmd
}

func newLocalPlanCmd(configPath *string, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "plan PIPELINE",
		Short: "Show the stages assembled from config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := assemble(cmd.Context(), *configPath, args[0], slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()

			stages := p.Describe()
			infos := make([]StageInfo, len(stages))
			for i, s := range stages {
				infos[i] = StageInfo(s)
			}
			outputFn().Print(stageHeaders, stageRows(infos), infos)
			return nil
		},
	}
}

func newLocalRunCmd(configPath *string, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "run PIPELINE",
		Short: "Execute a pipeline in this process until it finishes",
		Long: `Execute a pipeline in this process until it finishes.

Nothing is persisted: if the process exits, the execution is lost.
External jobs that were already started keep running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			payload, err := loadPayload(payloadFile, inputs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := telemetry.SetupLogger("conveyor-cli")
			rt, p, err := assemble(ctx, *configPath, args[0], logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			runner := &engine.Runner{
				Logger: logger,
				OnStage: func(_ *domain.Execution, stage string) {
					out.Success("→ " + stage)
				},
			}

			exec, runErr := runner.Run(ctx, p, domain.Trigger{Payload: payload, Source: "cli"})
			if exec != nil {
				printExecution(out, executionFromDomain(exec))
			}
			if runErr != nil {
				return fmt.Errorf("execution failed: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger payload as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with trigger payload")

	return cmd
}

func newLocalPublishCmd(outputFn func() *Output) *cobra.Command {
	var inputs []string
	var payloadFile string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "publish PIPELINE",
		Short: "Publish a trigger to RabbitMQ (triggers.inbound)",
		Long: `Publish a trigger straight to the triggers.inbound queue.

The orchestrator consumes it and starts an execution. RabbitMQ is
reached through $RABBITMQ_URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := loadPayload(payloadFile, inputs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			logger := slog.New(slog.DiscardHandler)
			conn, err := mq.NewConnection(mq.URLFromEnv(), logger)
			if err != nil {
				return fmt.Errorf("connect rabbitmq: %w", err)
			}
			defer conn.Close()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return err
			}

			trigger := domain.Trigger{
				Pipeline:       args[0],
				Payload:        payload,
				IdempotencyKey: idempotencyKey,
				Source:         "cli",
			}
			if err := mq.NewPublisher(conn, logger).PublishTrigger(ctx, trigger); err != nil {
				return fmt.Errorf("publish trigger: %w", err)
			}

			outputFn().Success(fmt.Sprintf("Trigger for %s published", args[0]))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger payload as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with trigger payload")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Deduplicate repeated triggers")

	return cmd
}

// assemble загружает конфигурацию и собирает pipeline name.
func assemble(ctx context.Context, path, name string, logger *slog.Logger) (*config.Runtime, *engine.Pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	rt, err := config.Assemble(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	p, ok := rt.Registry.Get(name)
	if !ok {
		rt.Close()
		return nil, nil, fmt.Errorf("pipeline %q is not enabled by config", name)
	}
	return rt, p, nil
}

// executionFromDomain конвертирует локальный execution в формат API.
func executionFromDomain(e *domain.Execution) *ExecutionResponse {
	resp := &ExecutionResponse{
		ID:          e.ID.String(),
		Pipeline:    e.Pipeline,
		Status:      string(e.Status),
		LastStage:   e.LastStage,
		FailedStage: e.FailedStage,
		Error:       e.Error,
		Polls:       e.Polls,
		Trigger:     e.Trigger,
		DurationMs:  e.Duration().Milliseconds(),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.Context != nil {
		resp.Context = &ContextDoc{
			Trigger: e.Context.Trigger,
			Outputs: e.Context.Outputs,
			Order:   e.Context.Keys(),
			Sealed:  e.Context.Sealed,
		}
	}
	if e.FinishedAt != nil {
		resp.FinishedAt = e.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
