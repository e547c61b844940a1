package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbparse/internal/app"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <doc-id>",
		Short: "Parse one document synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
				res, err := a.Documents.ParseDocument(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				if !res.Success {
					return errors.New(res.Error)
				}
				return nil
			})
		},
	}
}
