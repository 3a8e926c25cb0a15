package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newServerCmd groups lifecycle operations of the remote service itself.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Inspect and control the remote crawl service",
	}
	cmd.AddCommand(newServerStatusCmd(), newServerStopCmd())
	return cmd
}

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the remote service's status document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			status, err := a.Client().ServerStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("server status: %w", err)
			}
			body, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func newServerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the remote service to shut down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Client().StopServer(cmd.Context()); err != nil {
				return fmt.Errorf("stop server: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}
