package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/davidhoung2/helpbot/internal/dashboard"
	"github.com/davidhoung2/helpbot/internal/logger"
	"github.com/davidhoung2/helpbot/internal/telegraph"
	discordadapter "github.com/davidhoung2/helpbot/internal/telegraph/discord"
	slackadapter "github.com/davidhoung2/helpbot/internal/telegraph/slack"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bridge, HTTP API and expiry scheduler",
		Long: `Connects to the configured chat platform and ingests every message in the
channels the bot can see. The HTTP API runs alongside when http.enabled is set
or --port is given. Expired records are purged on the expiry schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "serve the HTTP API on this port (overrides http.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := openApp(cmd, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	if port > 0 {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Port = port
	}
	if cfg.Chat.Platform == "" && !cfg.HTTP.Enabled {
		return fmt.Errorf("serve: nothing to run (set chat.platform or http.enabled)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Chat.Platform != "" {
		adapter, err := createAdapter(cfg, logger.Component(a.Log, cfg.Chat.Platform))
		if err != nil {
			return err
		}
		daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
			Adapter:        adapter,
			Service:        a.Service,
			Background:     []telegraph.Background{a.Scheduler},
			IgnoreChannels: cfg.Chat.IgnoreChannels,
			Workers:        cfg.Chat.Workers,
			Logger:         logger.Component(a.Log, "telegraph"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return daemon.Run(ctx) })
	} else {
		a.StartBackground(ctx)
	}

	if cfg.HTTP.Enabled {
		g.Go(func() error {
			return dashboard.Start(ctx, dashboard.StartOpts{
				Service:  a.Service,
				Gatherer: a.Registry,
				Port:     cfg.HTTP.Port,
				Out:      cmd.OutOrStdout(),
				Logger:   logger.Component(a.Log, "http"),
			})
		})
	}

	return g.Wait()
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log zerolog.Logger) (telegraph.Adapter, error) {
	switch cfg.Chat.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.Slack.AppToken,
			BotToken:  cfg.Chat.Slack.BotToken,
			ChannelID: cfg.Chat.Slack.ChannelID,
			Logger:    log,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.Discord.BotToken,
			ChannelID: cfg.Chat.Discord.ChannelID,
			Logger:    log,
		})
	default:
		return nil, fmt.Errorf("serve: unsupported platform %q", cfg.Chat.Platform)
	}
}
