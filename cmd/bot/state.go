package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eliseohh/xuibot/internal/snapshot"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage the persisted notification baseline",
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored baseline; the next start takes the panel as-is",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.State.Path == "" {
			return errors.New("invalid config: state.path is not set")
		}

		db, err := snapshot.NewDB(cmd.Context(), cfg.State.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Nuke(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️ Baseline in %s cleared\n", cfg.State.Path)
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}
