package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewWorkerCmd создаёт группу команд для управления worker'ами.
func NewWorkerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Manage workers",
	}

	cmd.AddCommand(
		newWorkerListCmd(clientFn, outputFn),
		newWorkerShowCmd(clientFn, outputFn),
		newWorkerTagsCmd(clientFn, outputFn),
		newWorkerEnabledCmd(clientFn, outputFn, true),
		newWorkerEnabledCmd(clientFn, outputFn, false),
	)

	return cmd
}

var workerHeaders = []string{"ID", "HOSTNAME", "STATUS", "TAGS", "IP", "LAST_SEEN"}

func workerRow(w WorkerResponse) []string {
	return []string{w.ID, w.Hostname, Status(w.Status), joinTags(w.Tags), orDash(w.IPAddress), w.LastSeen}
}

func newWorkerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, err := clientFn().ListWorkers()
			if err != nil {
				return err
			}

			rows := make([][]string, len(workers))
			for i, w := range workers {
				rows[i] = workerRow(w)
			}

			outputFn().Print(workerHeaders, rows, workers)
			return nil
		},
	}
}

func newWorkerShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show worker details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := clientFn().GetWorker(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(workerHeaders, [][]string{workerRow(*w)}, w)
			return nil
		},
	}
}

func newWorkerTagsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tags ID [TAG...]",
		Short: "Replace worker tags (no tags clears them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			w, err := clientFn().SetWorkerTags(args[0], args[1:])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Worker %s tags: %s", w.Hostname, joinTags(w.Tags)))
			return nil
		},
	}
}

func newWorkerEnabledCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short := "disable ID", "Stop dispatching work to a worker"
	if enabled {
		use, short = "enable ID", "Resume dispatching work to a worker"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := clientFn().SetWorkerEnabled(args[0], enabled)
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Worker %s is %s", w.Hostname, Status(w.Status)))
			return nil
		},
	}
}

// NewTagsCmd создаёт команду вывода производного списка тегов.
func NewTagsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags in use by workers, tasks and workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := clientFn().ListTags()
			if err != nil {
				return err
			}

			rows := make([][]string, len(tags))
			for i, t := range tags {
				rows[i] = []string{t.Tag, strconv.Itoa(t.Workers), strconv.Itoa(t.Tasks), strconv.Itoa(t.Workflows)}
			}

			outputFn().Print([]string{"TAG", "WORKERS", "TASKS", "WORKFLOWS"}, rows, tags)
			return nil
		},
	}
}
