package main

import (
	"fmt"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eliseohh/xuibot/internal/account"
	"github.com/eliseohh/xuibot/internal/api"
	"github.com/eliseohh/xuibot/internal/bot"
	"github.com/eliseohh/xuibot/internal/logging"
	"github.com/eliseohh/xuibot/internal/monitor"
	"github.com/eliseohh/xuibot/internal/snapshot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot, the panel monitor and the optional health endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logging.New(os.Stdout, cfg.LogLevel)

		store, err := openPanel(cfg, cfg.Panel.ReadOnly)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("failed to close panel db", tint.Err(err))
			}
		}()

		accounts := account.NewService(store, cfg.Panel.PublicHost)

		b, err := bot.New(
			bot.Config{Token: cfg.Bot.Token, PollTimeout: cfg.Bot.PollTimeout},
			accounts,
			logging.Named(log, "bot"),
		)
		if err != nil {
			return fmt.Errorf("bot init failed: %w", err)
		}

		var baselines monitor.BaselineStore
		if cfg.State.Path != "" {
			db, err := snapshot.NewDB(ctx, cfg.State.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			baselines = snapshot.NewStore(db)
		}

		mon := monitor.New(
			monitor.Config{
				Interval:     cfg.Monitor.Interval,
				ErrorBackoff: cfg.Monitor.ErrorBackoff,
				NotifyRate:   cfg.Monitor.NotifyRate,
			},
			accounts,
			store,
			baselines,
			b,
			logging.Named(log, "monitor"),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return b.Run(gctx) })
		if cfg.Monitor.Enabled {
			g.Go(func() error { return mon.Run(gctx) })
		} else {
			log.Warn("panel monitor disabled, no change notifications will be sent")
		}
		if cfg.API.Listen != "" {
			a := api.New(cfg.API.Listen, mon, logging.Named(log, "api"))
			g.Go(func() error { return a.Run(gctx) })
		}

		log.InfoContext(ctx, "xuibot running", "panel", cfg.Panel.DBPath, "state", cfg.State.Path)
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
