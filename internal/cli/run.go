package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/centromex/rental-bot/internal/bot"
	"github.com/centromex/rental-bot/internal/config"
	"github.com/centromex/rental-bot/internal/db"
	"github.com/centromex/rental-bot/internal/metrics"
	"github.com/centromex/rental-bot/internal/notify"
	"github.com/centromex/rental-bot/internal/reconcile"
)

const purgeInterval = time.Hour

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot and the status watcher until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.Config.RequireToken(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, rootOpts.Config)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Println("Starting rental bot...")

	store := openStore(cfg)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize table: %w", err)
	}

	log.Println("Initializing database...")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	log.Println("Starting Telegram bot...")
	telegramBot, err := bot.New(bot.Config{Token: cfg.TelegramToken, Debug: cfg.TelegramDebug}, store, database)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(telegramBot.Resolver(database), telegramBot, notify.Options{
		Journal: database,
	})
	loop := reconcile.New(store, dispatcher, reconcile.Options{
		Interval: cfg.PollInterval,
		Baseline: database,
		Resume:   cfg.ResumeBaseline,
	})
	if err := loop.Seed(ctx); err != nil {
		return err
	}
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	if cfg.WatchTable {
		if err := reconcile.Watch(ctx, store.Path(), loop.Trigger, log.Default()); err != nil {
			log.Printf("[reconcile] file watch disabled: %v", err)
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Printf("[metrics] server error: %v", err)
			}
		}()
	}

	go purgeDeliveries(ctx, database, cfg.DeliveryRetention, purgeInterval)

	log.Println("Bot is running. Press Ctrl+C to stop.")

	return telegramBot.Run(ctx)
}

type deliveryPurger interface {
	PurgeDeliveries(olderThan time.Duration) (int64, error)
}

// purgeDeliveries trims the delivery journal every interval until ctx is done.
func purgeDeliveries(ctx context.Context, p deliveryPurger, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := p.PurgeDeliveries(retention)
			if err != nil {
				log.Printf("Error purging old deliveries: %v", err)
			} else if purged > 0 {
				log.Printf("Purged %d old deliveries", purged)
			}
		}
	}
}
