// Package cmd defines and implements the CLI commands for the marketpipe
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/badgerdata/marketpipe/internal/app"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can replace
// it with a fake factory.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfgFile)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketpipe",
		Short: "Wisconsin market data pipeline for small-business feasibility analysis.",
		Long: `marketpipe collects public datasets (Census ACS, BLS series, SBA loans,
Google Places, WisDOT traffic counts, DFI registrations, FCC broadband)
into BigQuery and maintains the derived analysis views consulting
reports are built on.`,

		// Runs before every subcommand's RunE: build the service container
		// and stash it in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults and MARKETPIPE_ env vars)")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newIntegrateCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

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
		fmt.Fprintf(os.Stderr, "marketpipe: %v\n", err)
		os.Exit(1)
	}
}
