package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/app"
	"github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "kbparse",
		Short:        "Knowledge base document parsing and indexing service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log encoding (json, console)")
	root.PersistentFlags().String("decoder", "", "document decoder (mineru, docconv)")

	serveFlags(root.Flags())
	root.AddCommand(newServeCmd(), newParseCmd(), newBatchCmd(), newEmbeddingCmd())
	// --log-level and --log_level both resolve to the log_level config key.
	root.SetGlobalNormalizationFunc(underscoreFlags)
	return root
}

func underscoreFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// bootstrap loads configuration with the command's flags bound over env and
// builds the logger.
func bootstrap(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("set GOMAXPROCS", zap.Error(err))
	}
	return cfg, log, nil
}

// withApp builds the application for a one-shot command and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
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
	return fn(ctx, a, log)
}
