// gh-linker-bot — expands GitHub references in chat messages and lets
// authors delete the bot's replies with a reaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/laundmo/gh-linker-bot/pkg/api"
	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/channels/console"
	"github.com/laundmo/gh-linker-bot/pkg/channels/discord"
	"github.com/laundmo/gh-linker-bot/pkg/channels/slack"
	"github.com/laundmo/gh-linker-bot/pkg/config"
	"github.com/laundmo/gh-linker-bot/pkg/cron"
	"github.com/laundmo/gh-linker-bot/pkg/github"
	"github.com/laundmo/gh-linker-bot/pkg/linker"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/settings"
	"github.com/laundmo/gh-linker-bot/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "linker.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	repo := settings.NewRepository(cfg.DataDir)
	mb := bus.NewMessageBus()
	defer mb.Close()

	mgr := channels.NewManager(mb)
	if cfg.Discord.Token != "" {
		if err := mgr.Register(discord.New(cfg.Discord, mb)); err != nil {
			return err
		}
	}
	if cfg.Slack.BotToken != "" {
		if err := mgr.Register(slack.New(cfg.Slack, mb)); err != nil {
			return err
		}
	}
	if cfg.Console {
		if err := mgr.Register(console.New(mb)); err != nil {
			return err
		}
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	gh := github.NewClient(cfg.GitHub.Token)

	lnk := linker.New(mb, mgr, repo, st, gh, linker.Options{
		DeleteEmojis:  cfg.Linker.DeleteEmojis,
		DeleteTimeout: cfg.Linker.DeleteTimeout,
		Snippets:      cfg.Linker.Snippets,
	})
	go lnk.Run(ctx)

	cronSvc := cron.NewService()
	if err := cronSvc.Add(cron.Job{
		Name: "snippet-cache-evict",
		Expr: cfg.Cron.CacheEvict,
		Run: func(context.Context) error {
			if n := gh.EvictExpired(); n > 0 {
				logger.DebugCF("cron", "Evicted snippet cache entries", map[string]interface{}{"count": n})
			}
			return nil
		},
	}); err != nil {
		return err
	}
	if err := cronSvc.Add(cron.Job{
		Name: "dedup-prune",
		Expr: cfg.Cron.DedupPrune,
		Run: func(ctx context.Context) error {
			n, err := st.PruneProcessed(ctx, cfg.Cron.DedupRetention)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.InfoCF("cron", "Pruned dedup rows", map[string]interface{}{"count": n})
			}
			return nil
		},
	}); err != nil {
		return err
	}
	go cronSvc.Run(ctx)

	if cfg.Gateway.Enabled {
		srv := api.NewServer(api.Config{
			Host:   cfg.Gateway.Host,
			Port:   cfg.Gateway.Port,
			APIKey: cfg.Gateway.APIKey,
		}, mgr, cronSvc, st, repo, gh, mb)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()
	}

	logger.InfoC("main", "gh-linker-bot running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.InfoC("main", "Shutting down")
	return nil
}
