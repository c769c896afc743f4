package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runHeaders — заголовки таблицы runs.
var runHeaders = []string{"ID", "PIPELINE", "RUNNER", "EVENT", "STATUS", "FAILED_STEP", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{r.ID, r.Pipeline, r.RunnerLabel, r.Event.Type, r.Status, r.FailedStep, r.CreatedAt}
}

// NewRunsCmd создаёт группу команд для просмотра runs на сервере.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs on the server",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsStepsCmd(clientFn, outputFn),
		newRunsCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Filter by pipeline name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(run)
				return nil
			}

			out.Table(
				[]string{"ID", "PIPELINE", "RUNNER", "STATUS", "FAILURE", "CACHE_KEY", "DURATION"},
				[][]string{{run.ID, run.Pipeline, run.RunnerLabel, run.Status, run.FailureKind, run.CacheKey, formatMs(run.DurationMs)}},
			)
			fmt.Fprintln(out.Writer())
			out.Table(stepHeaders, StepRows(run.Steps))
			if run.Error != "" {
				out.Error(run.Error)
			}
			return nil
		},
	}
}

func newRunsStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "steps RUN_ID",
		Short: "List step results of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			steps, err := clientFn().ListSteps(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Print(stepHeaders, StepRows(steps), steps)

			if showOutput && !out.JSONMode() {
				for _, s := range steps {
					if s.Output == "" {
						continue
					}
					fmt.Fprintf(out.Writer(), "\n==> %s\n%s\n", s.StepID, s.Output)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOutput, "output", false, "Print captured output of each step")

	return cmd
}

func newRunsCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run cancelling: %s", args[0]))
			return nil
		},
	}
}

// NewTriggerCmd создаёт команду ручного запуска pipeline на сервере.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateRunRequest

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start the pipeline on the server for a ref or commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Ref == "" && req.SHA == "" {
				return fmt.Errorf("--ref or --sha is required")
			}

			out := outputFn()

			runs, err := clientFn().Trigger(cmd.Context(), req)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
				out.Success(fmt.Sprintf("Run queued: %s (%s)", r.ID, r.RunnerLabel))
			}
			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Ref, "ref", "", "Git ref to build (e.g. refs/heads/master)")
	cmd.Flags().StringVar(&req.SHA, "sha", "", "Commit to build")

	return cmd
}
