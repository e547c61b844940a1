package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbparse/internal/app"
)

func serveFlags(fs *pflag.FlagSet) {
	fs.String("port", "", "HTTP listen port")
	fs.Int("parse-workers", 0, "async parse workers")
	fs.Int("parse-queue-size", 0, "async parse queue capacity")
	fs.Int("batch-capacity", 0, "concurrent batch parses")
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background parse workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	serveFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, log, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	a.StartWorkers(ctx)
	srv := app.NewServer(a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Stop the queue workers if the server exited on its own.
	stop()
	log.Info("service stopped", zap.Error(err))
	return err
}
