package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliseohh/xuibot/internal/config"
	"github.com/eliseohh/xuibot/internal/logging"
	"github.com/eliseohh/xuibot/internal/panel"
)

const slowQueryThreshold = 500 * time.Millisecond

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:           "xuibot",
		Short:         "Telegram bot for 3x-ui panel users",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"env file to load (default .env)",
	)
}

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

// openPanel opens the panel database with gorm logging at the configured
// database level.
func openPanel(cfg *config.Config, readOnly bool) (*panel.Store, error) {
	handler := logging.NewHandler(os.Stdout, cfg.DatabaseLogLevel)
	return panel.Open(cfg.Panel.DBPath, panel.Options{
		ReadOnly: readOnly,
		Logger:   logging.NewGORMLogger(handler, slowQueryThreshold),
	})
}
