package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	probeValue string
	probeWait  time.Duration
)

var sniCmd = &cobra.Command{
	Use:   "sni",
	Short: "Inspect or change the reality SNI of the panel inbound",
}

var sniShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current SNI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidatePanel(); err != nil {
			return err
		}
		store, err := openPanel(cfg, true)
		if err != nil {
			return err
		}
		defer store.Close()

		sni, err := store.CurrentSNI(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📋 Current SNI: %s\n", sni)
		return nil
	},
}

var sniSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Replace the SNI; a running bot notifies every user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return errors.New("empty SNI")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidatePanel(); err != nil {
			return err
		}
		store, err := openPanel(cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetSNI(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ SNI set to %s\n", args[0])
		return nil
	},
}

var sniProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Switch the SNI, wait, then restore it, to exercise change notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidatePanel(); err != nil {
			return err
		}
		store, err := openPanel(cfg, false)
		if err != nil {
			return err
		}
		defer store.Close()

		original, err := store.CurrentSNI(ctx)
		if err != nil {
			return err
		}
		if original == "" {
			return errors.New("inbound has no SNI to restore")
		}
		fmt.Fprintf(out, "📋 Current SNI: %s\n", original)

		if err := store.SetSNI(ctx, probeValue); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ SNI set to %s, waiting %s\n", probeValue, probeWait)

		select {
		case <-ctx.Done():
		case <-time.After(probeWait):
		}

		// restore even when interrupted
		if err := store.SetSNI(cmd.Context(), original); err != nil {
			return fmt.Errorf("failed to restore SNI %s: %w", original, err)
		}
		fmt.Fprintf(out, "✅ SNI restored to %s\n", original)
		return nil
	},
}

func init() {
	sniProbeCmd.Flags().StringVar(&probeValue, "value", "example.com", "temporary SNI")
	sniProbeCmd.Flags().DurationVar(&probeWait, "wait", 5*time.Second, "time to keep the temporary SNI")

	sniCmd.AddCommand(sniShowCmd, sniSetCmd, sniProbeCmd)
	rootCmd.AddCommand(sniCmd)
}
