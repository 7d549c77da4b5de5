package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var executionHeaders = []string{"ID", "PIPELINE", "STATUS", "LAST_STAGE", "POLLS", "CREATED"}

func executionRow(e ExecutionResponse) []string {
	return []string{e.ID, e.Pipeline, e.Status, e.LastStage, strconv.Itoa(e.Polls), e.CreatedAt}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListExecutions(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = executionRow(e)
			}

			outputFn().Print(executionHeaders, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Filter by pipeline")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var payloadFile string
	var idempotencyKey string
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "start PIPELINE",
		Short: "Trigger a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			payload, err := loadPayload(payloadFile, inputs)
			if err != nil {
				return err
			}

			exec, err := client.StartExecution(StartExecutionRequest{
				Pipeline:       args[0],
				Payload:        payload,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Execution started: %s", exec.ID))

			if wait {
				exec, err = waitExecution(client, exec.ID, interval)
				if err != nil {
					return err
				}
			}

			printExecution(out, exec)
			if wait && exec.Status == "FAILED" {
				return fmt.Errorf("execution failed at %s: %s", exec.FailedStage, exec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Trigger payload as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with trigger payload")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the execution finishes")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Status poll interval for --wait")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution status and context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().GetExecution(args[0])
			if err != nil {
				return err
			}

			printExecution(outputFn(), exec)
			return nil
		},
	}
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().CancelExecution(args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Execution cancelled: %s", exec.ID))
			return nil
		},
	}
}

// printExecution выводит execution и, в табличном режиме, ключи Context.
func printExecution(out *Output, e *ExecutionResponse) {
	out.Print(
		[]string{"ID", "PIPELINE", "STATUS", "LAST_STAGE", "FAILED_STAGE", "ERROR", "POLLS"},
		[][]string{{e.ID, e.Pipeline, e.Status, e.LastStage, e.FailedStage, e.Error, strconv.Itoa(e.Polls)}},
		e,
	)
	if out.IsJSON() || e.Context == nil || len(e.Context.Order) == 0 {
		return
	}

	rows := make([][]string, 0, len(e.Context.Order))
	for _, key := range e.Context.Order {
		rows = append(rows, []string{key, strconv.FormatBool(e.Context.Sealed[key]), formatFields(e.Context.Outputs[key])})
	}
	out.Table([]string{"STAGE", "SEALED", "OUTPUT"}, rows)
}

// waitExecution опрашивает execution, пока он не завершится.
func waitExecution(client *Client, id string, interval time.Duration) (*ExecutionResponse, error) {
	for {
		exec, err := client.GetExecution(id)
		if err != nil {
			return nil, err
		}
		if exec.IsFinished() {
			return exec, nil
		}
		time.Sleep(interval)
	}
}

// loadPayload собирает payload из JSON-файла и пар KEY=VALUE.
// Пары перекрывают поля файла.
func loadPayload(file string, inputs []string) (map[string]any, error) {
	payload := map[string]any{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("parse payload file: %w", err)
		}
	}

	pairs, err := parseInputs(inputs)
	if err != nil {
		return nil, err
	}
	for k, v := range pairs {
		payload[k] = v
	}

	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}

// parseInputs парсит KEY=VALUE пары.
func parseInputs(inputs []string) (map[string]any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(inputs))
	for _, kv := range inputs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		out[key] = value
	}
	return out, nil
}

// formatFields выводит поля стадии как k=v в стабильном порядке.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}
