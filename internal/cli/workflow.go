package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Launch workflows",
	}

	cmd.AddCommand(newWorkflowLaunchCmd(clientFn, outputFn))

	return cmd
}

func newWorkflowLaunchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req LaunchRequest

	cmd := &cobra.Command{
		Use:   "launch WORKFLOW_ID",
		Short: "Launch a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			res, err := clientFn().LaunchWorkflow(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run launched: %s", res.Run.ID))
			if len(res.Children) > 0 {
				out.Success(fmt.Sprintf("Fanned out to %d workers", len(res.Children)))
			}

			rows := [][]string{runRow(res.Run)}
			for _, child := range res.Children {
				rows = append(rows, runRow(child))
			}
			out.Print(runHeaders, rows, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.TriggeredBy, "triggered-by", "", "Trigger source (API, UI, SCHEDULE); default API")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User on whose behalf the run is launched")

	return cmd
}
