package main

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, cfg *config.Config, b *backend) error {
				applied, err := b.store.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migrate %s: %w", cfg.Registration.Store, err)
				}

				logger.Get().Info("Migrations applied",
					zap.String("store", cfg.Registration.Store),
					zap.Strings("versions", applied),
				)
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
				}
				return nil
			})
		},
	}
}
