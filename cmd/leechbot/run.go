package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pokerjest/animeleech/internal/app"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/logger"
	"github.com/pokerjest/animeleech/internal/worker"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot, health server and resource governor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.AppConfig
			closer, err := logger.Setup(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.WithFields(log.Fields{"version": version, "engine": cfg.Engine.Kind}).Info("🚀 leechbot starting")
			err = a.Run(ctx)
			switch {
			case errors.Is(err, worker.ErrRestartRequested):
				log.Warn("exiting for worker restart")
			case err != nil && !errors.Is(err, context.Canceled):
				log.Errorf("leechbot stopped: %v", err)
			default:
				log.Info("leechbot stopped")
			}
			return err
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one resource governor sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.AppConfig
			rep := app.NewGovernor(cfg, afero.NewOsFs()).Sweep(cmd.Context())

			rss := "unknown"
			if !rep.Degraded || rep.RSS > 0 {
				rss = humanize.IBytes(rep.RSS)
			}
			cmd.Printf("rss: %s\n", rss)
			cmd.Printf("killed: %d\n", len(rep.Killed))
			for _, k := range rep.Killed {
				cmd.Printf("  %s\n", k)
			}
			cmd.Printf("removed: %d\n", len(rep.Removed))
			for _, p := range rep.Removed {
				cmd.Printf("  %s\n", p)
			}
			return nil
		},
	}
}
