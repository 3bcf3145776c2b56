package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для workflow runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and terminate workflow runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunExecutionsCmd(clientFn, outputFn),
		newRunTerminateCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "WORKFLOW", "VERSION", "STATUS", "TRIGGER", "STARTED", "DURATION_MS"}

func runRow(r RunResponse) []string {
	return []string{
		r.ID,
		r.WorkflowName,
		strconv.Itoa(r.WorkflowVersion),
		Status(r.Status),
		r.TriggeredBy,
		r.StartedAt,
		strconv.FormatInt(r.DurationMs, 10),
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(opts)
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

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "Filter by workflow ID")
	cmd.Flags().StringVar(&opts.ParentID, "parent-id", "", "Filter by fan-out parent run ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCESS, FAILED, ...)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var withExecutions bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			detail, err := clientFn().GetRun(args[0], withExecutions)
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(detail)
				return nil
			}

			run := detail.Run
			out.Table(
				[]string{"ID", "WORKFLOW", "STATUS", "PARENT", "WORKER", "ERROR"},
				[][]string{{run.ID, run.WorkflowName, Status(run.Status), orDash(run.ParentExecutionID), orDash(run.TargetWorkerID), orDash(run.Error)}},
			)
			if withExecutions {
				out.Line("")
				printExecutions(out, detail.Executions)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withExecutions, "executions", false, "Include run executions")

	return cmd
}

func newRunExecutionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "executions RUN_ID",
		Short: "List executions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListRunExecutions(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(execs)
				return nil
			}
			printExecutions(out, execs)
			return nil
		},
	}
}

func newRunTerminateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "terminate ID",
		Short: "Terminate a run and fail its unfinished executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().TerminateRun(args[0], reason)
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run terminated: %s (%s)", run.ID, run.Error))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Termination reason")

	return cmd
}
