// Package cmd implements the crawlpilot command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crawlops/crawlpilot/internal/app"
	"github.com/crawlops/crawlpilot/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// closeTimeout bounds graceful teardown after a command returns.
const closeTimeout = 10 * time.Second

// buildApp is the application factory. It's a variable so tests can swap
// in a factory that wires fake services.
var buildApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlpilot",
		Short: "Control plane for a remote crawl service",
		Long: `crawlpilot drives multi-round crawls on a remote crawl service through its
REST API: it uploads seed lists, walks each round through the INJECT,
GENERATE, FETCH, PARSE and UPDATEDB pipeline, and archives a report when
the crawl finishes. It can run a single crawl from the command line or
serve an HTTP control API with scheduled crawls.`,

		// Runs after flag parsing and before the subcommand's RunE. Builds
		// the application and hands it to subcommands via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		// Ensures services are shut down gracefully once the subcommand
		// returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := a.Close(ctx); err != nil {
				zap.L().Warn("Shutdown incomplete", zap.Error(err))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/crawlpilot, $HOME/.crawlpilot)")

	cmd.AddCommand(
		newCrawlCmd(),
		newJobsCmd(),
		newSeedCmd(),
		newConfCmd(),
		newServerCmd(),
		newServeCmd(),
	)

	return cmd
}

// resolveApp pulls the application out of the command context.
func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}
