package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Run tasks outside of workflows",
	}

	cmd.AddCommand(newTaskExecuteCmd(clientFn, outputFn))

	return cmd
}

func newTaskExecuteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req ExecuteTaskRequest

	cmd := &cobra.Command{
		Use:   "execute TASK_ID",
		Short: "Create a standalone execution of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			e, err := clientFn().ExecuteTask(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution created: %s", e.ID))
			out.Print(executionHeaders, [][]string{executionRow(*e)}, e)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.TargetWorkerID, "worker", "", "Pin to worker ID")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Required worker tag (repeatable)")

	return cmd
}

// NewExecutionCmd создаёт группу команд для executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect task executions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show execution details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			e, err := clientFn().GetExecution(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(e)
				return nil
			}
			out.Table(
				[]string{"ID", "TASK", "RUN", "NODE", "STATUS", "WORKER", "ERROR"},
				[][]string{{e.ID, e.TaskID, orDash(e.WorkflowExecutionID), orDash(e.NodeID), Status(e.Status), orDash(e.WorkerID), orDash(e.Error)}},
			)
			return nil
		},
	})

	return cmd
}

var executionHeaders = []string{"ID", "NODE", "STATUS", "TAGS", "WORKER", "DURATION_MS", "ERROR"}

func executionRow(e ExecutionResponse) []string {
	return []string{
		e.ID,
		orDash(e.NodeID),
		Status(e.Status),
		joinTags(e.TargetTags),
		orDash(e.WorkerID),
		strconv.FormatInt(e.DurationMs, 10),
		orDash(e.Error),
	}
}

func printExecutions(out *Output, execs []ExecutionResponse) {
	rows := make([][]string, len(execs))
	for i, e := range execs {
		rows[i] = executionRow(e)
	}
	out.Table(executionHeaders, rows)
}
