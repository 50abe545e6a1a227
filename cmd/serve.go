package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/api"
	"github.com/badgerdata/marketpipe/internal/dispatcher"
	"github.com/badgerdata/marketpipe/internal/worker"
)

// newServeCmd creates the 'serve' subcommand: the HTTP API plus the worker
// pool that executes queued runs.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run queued collections",

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			workers := make([]*worker.Worker, 0, a.Config.Collector.Workers)
			for i := 0; i < a.Config.Collector.Workers; i++ {
				workers = append(workers, worker.New(
					a.Queue,
					a.Engine,
					a.Logger.Named("worker").With(zap.Int("index", i)),
				))
			}
			dispatch := dispatcher.New(a.Queue, workers)

			apiServer := api.NewServer(a.Registry, a.Runs, a.Submitter, a.Config, a.Logger.Named("api"))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			dispatcherDone := make(chan struct{})
			go func() {
				defer close(dispatcherDone)
				a.Logger.Info("dispatcher started", zap.Int("workers", len(workers)))
				dispatch.Run(ctx)
			}()

			go func() {
				a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Logger.Error("http server error", zap.Error(err))
					stop()
				}
			}()

			<-ctx.Done()
			a.Logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error("server shutdown error", zap.Error(err))
			}

			// Workers observe the canceled context; wait for in-flight runs.
			select {
			case <-dispatcherDone:
			case <-time.After(30 * time.Second):
				a.Logger.Warn("workers did not drain before deadline")
			}
			a.Logger.Info("shutdown complete")
			return nil
		},
	}
}
