package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"easel/internal/jobs"
	"easel/internal/logging"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and show the ledger",
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

			records, err := store.MigrationRecords(cmd.Context())
			if err != nil {
				return fmt.Errorf("read migration ledger: %w", err)
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				state := "ok"
				detail := ""
				if !record.Succeeded {
					state = "failed"
					detail = record.Error
				}
				rows = append(rows, []string{
					record.Name,
					state,
					record.AppliedAt.Format("2006-01-02 15:04:05"),
					detail,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Migration", "State", "Applied", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))

			fmt.Fprintln(out, "All migrations applied")
			return nil
		},
	}
}
