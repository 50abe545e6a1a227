package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/warehouse"
)

// viewEnsurer is satisfied by warehouse backends that manage derived views.
type viewEnsurer interface {
	EnsureViews(ctx context.Context) error
}

// newIntegrateCmd creates the 'integrate' subcommand: ensure every raw
// table exists and create or replace the derived analysis views.
func newIntegrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrate",
		Short: "Create raw tables and refresh the derived analysis views",
		Long: `Ensures the destination dataset, every per-source raw table, and the
derived views (` + fmt.Sprint(warehouse.ViewNames()) + `) exist, updating
view SQL in place when it changed.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			for _, src := range a.Registry.All() {
				spec := src.Table()
				if err := a.Warehouse.EnsureTable(ctx, spec); err != nil {
					return fmt.Errorf("ensure table %s: %w", spec.Name, err)
				}
				a.Logger.Debug("table ensured", zap.String("table", spec.Name))
			}

			ve, ok := a.Warehouse.(viewEnsurer)
			if !ok {
				a.Logger.Warn("warehouse backend does not manage views, skipping view refresh")
				return nil
			}
			if err := ve.EnsureViews(ctx); err != nil {
				return fmt.Errorf("ensure views: %w", err)
			}
			a.Logger.Info("integration views refreshed",
				zap.Strings("views", warehouse.ViewNames()))
			return nil
		},
	}
}
