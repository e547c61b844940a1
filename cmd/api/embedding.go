package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/app"
)

func newEmbeddingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embedding",
		Short: "System embedding configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Embed a probe string with the system embedding configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				res, err := a.Embeddings.TestConnection(ctx, nil)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				if !res.Success {
					return errors.New("embedding connection test failed")
				}
				return nil
			})
		},
	})
	return cmd
}
