package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/badgerdata/marketpipe/internal/app"
	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// newCollectCmd creates the 'collect' subcommand. It runs the selected
// collectors in-process, without going through the serve queue.
func newCollectCmd() *cobra.Command {
	var (
		sources        []string
		cadence        string
		sampleFallback bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run data collectors and load their rows into the warehouse",
		Long: `Runs one batch of collection. With no flags the weekly set runs
(traffic, dfi). --cadence selects the weekly, monthly, or quarterly set;
--source overrides selection entirely and may repeat.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			selected, err := selectSources(a, sources, cadence)
			if err != nil {
				return err
			}

			fallback := a.Config.Collector.SampleFallback
			if cmd.Flags().Changed("sample-fallback") {
				fallback = sampleFallback
			}

			return runCollection(cmd, a, selected, fallback)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to collect (repeatable); overrides --cadence")
	cmd.Flags().StringVar(&cadence, "cadence", "", "collect every source on this schedule: weekly, monthly, or quarterly")
	cmd.Flags().BoolVar(&sampleFallback, "sample-fallback", false, "load bundled sample rows when live collection fails")

	return cmd
}

func selectSources(a *app.App, names []string, cadence string) ([]pipeline.Source, error) {
	if len(names) > 0 {
		selected := make([]pipeline.Source, 0, len(names))
		for _, name := range names {
			src, ok := a.Registry.Get(name)
			if !ok {
				return nil, fmt.Errorf("unknown source %q (known: %v)", name, a.Registry.Names())
			}
			selected = append(selected, src)
		}
		return selected, nil
	}

	c := pipeline.CadenceWeekly
	if cadence != "" {
		parsed, ok := pipeline.ParseCadence(cadence)
		if !ok {
			return nil, fmt.Errorf("invalid cadence %q: want weekly, monthly, or quarterly", cadence)
		}
		c = parsed
	}
	selected := a.Registry.ByCadence(c)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no sources on the %s cadence", c)
	}
	return selected, nil
}

func runCollection(cmd *cobra.Command, a *app.App, selected []pipeline.Source, fallback bool) error {
	ctx := cmd.Context()
	var g errgroup.Group
	g.SetLimit(a.Config.Collector.Workers)

	for _, src := range selected {
		name := src.Name()
		g.Go(func() error {
			id, err := a.IDs.NewID()
			if err != nil {
				return fmt.Errorf("generate run id for %s: %w", name, err)
			}
			now := a.Clock.Now()
			run := pipeline.Run{
				ID:        id,
				Source:    name,
				Table:     mustTable(a, name),
				Trigger:   pipeline.TriggerCLI,
				Status:    pipeline.RunStatusQueued,
				Submitted: now,
			}
			if err := a.Runs.CreateRun(ctx, run); err != nil {
				return fmt.Errorf("create run for %s: %w", name, err)
			}
			req := pipeline.RunRequest{
				RunID:          id,
				Source:         name,
				Trigger:        pipeline.TriggerCLI,
				SampleFallback: fallback,
				Submitted:      now.Unix(),
			}
			if err := a.Engine.Execute(ctx, req); err != nil {
				a.Logger.Error("collection failed",
					zap.String("source", name), zap.String("run_id", id), zap.Error(err))
				return fmt.Errorf("collect %s: %w", name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("collection batch finished with failures: %w", err)
	}
	a.Logger.Info("collection batch complete", zap.Int("sources", len(selected)))
	return nil
}

func mustTable(a *app.App, name string) string {
	if src, ok := a.Registry.Get(name); ok {
		return src.Table().Name
	}
	return ""
}
