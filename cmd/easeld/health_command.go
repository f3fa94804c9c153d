package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"easel/internal/api"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, token, err := ctx.apiBaseURL()
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, baseURL+"/api/health", nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("query health: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				return fmt.Errorf("health query failed (%s): %s", resp.Status, strings.TrimSpace(string(detail)))
			}

			var health api.HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			rows := [][]string{
				{"Total", strconv.Itoa(health.Total)},
				{"Ready", strconv.Itoa(health.Ready)},
				{"In flight", strconv.Itoa(health.InFlight)},
				{"Completed", strconv.Itoa(health.Completed)},
				{"Errored", strconv.Itoa(health.Errored)},
				{"Canceled", strconv.Itoa(health.Canceled)},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Metric", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))

			for _, migration := range health.Migrations {
				if !migration.Succeeded {
					fmt.Fprintf(out, "Migration %s failed: %s\n", migration.Name, migration.Error)
				}
			}
			return nil
		},
	}
}
