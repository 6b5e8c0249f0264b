package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunSubmitCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var tagKey string
	var tagValue string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				Status:   status,
				TagKey:   tagKey,
				TagValue: tagValue,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "PRIORITY", "TAGS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Status, strconv.Itoa(r.Priority), formatTags(r.Tags), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (QUEUED, LAUNCHING, STARTED, SUCCEEDED, FAILED, FAILED_TO_LAUNCH, CANCELED)")
	cmd.Flags().StringVar(&tagKey, "tag-key", "", "Filter by tag key")
	cmd.Flags().StringVar(&tagValue, "tag-value", "", "Filter by tag value (requires --tag-key)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tags []string
	var priority int
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new run to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitRunRequest{
				IdempotencyKey: idempotencyKey,
			}

			if len(tags) > 0 {
				req.Tags = make(map[string]string)
				for _, kv := range tags {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid tag format %q, expected KEY=VALUE", kv)
					}
					req.Tags[parts[0]] = parts[1]
				}
			}

			if cmd.Flags().Changed("priority") {
				if req.Tags == nil {
					req.Tags = make(map[string]string)
				}
				req.Tags["convoy/priority"] = strconv.Itoa(priority)
			}

			run, err := client.SubmitRun(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run submitted: %s", run.ID))
			out.Print(
				[]string{"ID", "STATUS", "PRIORITY", "TAGS", "CREATED"},
				[][]string{{run.ID, run.Status, strconv.Itoa(run.Priority), formatTags(run.Tags), run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Run tags as KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Run priority (shortcut for --tag convoy/priority=N)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "STATUS", "PRIORITY", "TAGS", "ERROR", "CREATED"},
				[][]string{{run.ID, run.Status, strconv.Itoa(run.Priority), formatTags(run.Tags), run.Error, run.CreatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Remove a run from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			// Отмена идемпотентна: уже запущенный run сервер не трогает
			if run.Status != "CANCELED" {
				out.Success(fmt.Sprintf("Run %s is %s, nothing to cancel", run.ID, run.Status))
				return nil
			}

			out.Success(fmt.Sprintf("Run canceled: %s", run.ID))
			return nil
		},
	}
}

// formatTags сериализует теги в компактный вид k=v,k=v.
func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
