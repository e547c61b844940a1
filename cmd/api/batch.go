package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/app"
	"github.com/markdave123-py/kbparse/internal/models"
)

func newBatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "batch <kb-id>",
		Short: "Parse every unparsed document of a knowledge base and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				kbID := args[0]
				res, err := a.Ingest.StartBatchParse(ctx, kbID)
				if err != nil {
					return err
				}
				if !res.Success {
					return errors.New(res.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)

				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				var last string
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-ticker.C:
					}
					task, err := a.Ingest.BatchParseProgress(ctx, kbID)
					if err != nil {
						return err
					}
					if task.Message != last {
						fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] %s\n", task.Current, task.Total, task.Message)
						last = task.Message
					}
					if task.Active() {
						continue
					}
					if task.Status == models.BatchFailed {
						return errors.New(task.Message)
					}
					return nil
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "progress poll interval")
	return cmd
}
