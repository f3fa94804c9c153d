package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"easel/internal/jobs"
	"easel/internal/logging"
)

func newFailuresCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Show recent terminally failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg, logging.NewNop())
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			list, err := store.RecentFailures(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list failures: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No failed jobs")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, job := range list {
				completed := ""
				if job.CompletedAt != nil {
					completed = job.CompletedAt.Format("2006-01-02 15:04:05")
				}
				rows = append(rows, []string{
					job.UUID,
					job.Workflow,
					strconv.Itoa(job.RetryCount),
					completed,
					job.ErrorMessage,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Workflow", "Retries", "Failed At", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of failures to show")
	return cmd
}
