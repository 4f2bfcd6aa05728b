package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"creditgate/internal/config"
	"creditgate/internal/infrastructure"
	"creditgate/internal/repository"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply creditgate database migrations",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		gooseCmd("up", "Apply all pending migrations", cobra.NoArgs),
		gooseCmd("up-to [version]", "Apply migrations up to a version", cobra.ExactArgs(1)),
		gooseCmd("down", "Roll back the latest migration", cobra.NoArgs),
		gooseCmd("down-to [version]", "Roll back to a version", cobra.ExactArgs(1)),
		gooseCmd("redo", "Roll back and reapply the latest migration", cobra.NoArgs),
		gooseCmd("status", "Print the status of every migration", cobra.NoArgs),
		gooseCmd("version", "Print the current database version", cobra.NoArgs),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// gooseCmd maps a subcommand one to one onto the goose command of the same name.
func gooseCmd(use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewMigration()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log, err := infrastructure.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			if err := repository.RunMigrations(ctx, log, cfg.DSN(), cmd.Name(), args...); err != nil {
				return fmt.Errorf("migration %s: %w", cmd.Name(), err)
			}
			fmt.Printf("migration %s finished\n", cmd.Name())
			return nil
		},
	}
}
