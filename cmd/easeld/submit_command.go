package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"easel/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var request string
	var webhookURL string
	var webhookKey string

	cmd := &cobra.Command{
		Use:   "submit <workflow>",
		Short: "Submit a job to a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, token, err := ctx.apiBaseURL()
			if err != nil {
				return err
			}

			body := api.CreateJobRequest{
				Workflow:   strings.TrimSpace(args[0]),
				WebhookURL: webhookURL,
				WebhookKey: webhookKey,
			}
			if trimmed := strings.TrimSpace(request); trimmed != "" {
				body.Request = json.RawMessage(trimmed)
			}
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode submission: %w", err)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, baseURL+"/api/jobs", bytes.NewReader(encoded))
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				return fmt.Errorf("daemon rejected submission (%s): %s", resp.Status, strings.TrimSpace(string(detail)))
			}

			var view api.JobView
			if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", view.UUID, view.Workflow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&request, "request", "r", "", "Request payload as a JSON object")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook to confirm delivery against")
	cmd.Flags().StringVar(&webhookKey, "webhook-key", "", "Shared key sent as X-Easel-Key on delivery")
	return cmd
}
