package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для просмотра состояния очереди.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the run queue",
	}

	cmd.AddCommand(newQueueStatusCmd(clientFn, outputFn))

	return cmd
}

func newQueueStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and concurrency limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.GetQueueStatus()
			if err != nil {
				return err
			}

			maxRuns := "unlimited"
			if status.Concurrency.MaxConcurrentRuns != nil {
				maxRuns = strconv.Itoa(*status.Concurrency.MaxConcurrentRuns)
			}

			headers := []string{"QUEUED", "LAUNCHING", "STARTED", "MAX_CONCURRENT", "TAG_LIMITS"}
			rows := [][]string{{
				strconv.Itoa(status.Counts["QUEUED"]),
				strconv.Itoa(status.Counts["LAUNCHING"]),
				strconv.Itoa(status.Counts["STARTED"]),
				maxRuns,
				strconv.Itoa(len(status.Concurrency.TagConcurrencyLimits)),
			}}

			out.Print(headers, rows, status)
			return nil
		},
	}
}
