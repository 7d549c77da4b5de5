package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для просмотра pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect assembled pipelines",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pipelines",
			RunE: func(cmd *cobra.Command, args []string) error {
				pipelines, err := clientFn().ListPipelines()
				if err != nil {
					return err
				}

				rows := make([][]string, len(pipelines))
				for i, p := range pipelines {
					names := make([]string, len(p.Stages))
					for j, s := range p.Stages {
						names[j] = s.Name
					}
					rows[i] = []string{p.Name, p.PollInterval, strings.Join(names, " → ")}
				}

				outputFn().Print([]string{"NAME", "POLL_INTERVAL", "STAGES"}, rows, pipelines)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show NAME",
			Short: "Show pipeline stages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := clientFn().GetPipeline(args[0])
				if err != nil {
					return err
				}
				outputFn().Print(stageHeaders, stageRows(p.Stages), p)
				return nil
			},
		},
	)

	return cmd
}

var stageHeaders = []string{"#", "STAGE", "INPUT", "POLLS", "SKIPPABLE", "FINALIZER", "NEXT"}

func stageRows(stages []StageInfo) [][]string {
	rows := make([][]string, len(stages))
	for i, s := range stages {
		next := strconv.Itoa(s.Next)
		if s.Next < 0 {
			next = "end"
		}
		input := s.InputPath
		if input == "" {
			input = "trigger"
		}
		rows[i] = []string{
			strconv.Itoa(i), s.Name, input, strconv.FormatBool(s.Polls),
			strconv.FormatBool(s.Skippable), strconv.FormatBool(s.Finalizer), next,
		}
	}
	return rows
}
