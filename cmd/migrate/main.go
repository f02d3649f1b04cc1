// migrate manages the embedded schema: migrate up | down | version.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sitekeeper/internal/config"
	"sitekeeper/internal/db/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the sitekeeper database schema",
		Long:         "migrate runs the embedded schema migrations against DATABASE_URL.",
		SilenceUsage: true,
	}
	root.AddCommand(
		directionCmd(migrate.Up, "Apply all pending migrations"),
		directionCmd(migrate.Down, "Roll back all applied migrations"),
		versionCmd(),
	)
	return root
}

func directionCmd(d migrate.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(d),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := migrate.Run(cfg.DatabaseURL, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s complete\n", d)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			v, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	}
}
