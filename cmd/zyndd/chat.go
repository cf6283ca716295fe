package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ZyndAI-Connect/internal/dashboard"
)

func newChatCmd(a *app) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the dashboard agents from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Dashboard
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			queryTimeout := time.Duration(cfg.QueryTimeoutSeconds) * time.Second
			client := dashboard.NewClient(cfg.BaseURL, &http.Client{Timeout: queryTimeout})
			chat := dashboard.NewChat(client, os.Stdout, dashboard.ChatConfig{
				StatusInterval:  time.Duration(cfg.StatusIntervalSeconds) * time.Second,
				ProfileInterval: time.Duration(cfg.ProfileIntervalSeconds) * time.Second,
				QueryTimeout:    queryTimeout,
			})
			if err := chat.Run(cmd.Context(), os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Dashboard backend base URL (defaults to dashboard.base_url)")
	return cmd
}
