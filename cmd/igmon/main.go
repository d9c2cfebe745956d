package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/yourneighborhoodchef/igmon/internal/client"
	"github.com/yourneighborhoodchef/igmon/internal/config"
	"github.com/yourneighborhoodchef/igmon/internal/device"
	"github.com/yourneighborhoodchef/igmon/internal/headers"
	"github.com/yourneighborhoodchef/igmon/internal/logging"
	"github.com/yourneighborhoodchef/igmon/internal/monitor"
	"github.com/yourneighborhoodchef/igmon/internal/notify"
	"github.com/yourneighborhoodchef/igmon/internal/ratelimit"
	"github.com/yourneighborhoodchef/igmon/internal/session"
	"github.com/yourneighborhoodchef/igmon/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// A path the operator typed must exist; only the default path may be
	// absent (env-only runs).
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, err := config.Load(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting igmon")

	if cfg.ProxyURL == "" {
		log.Warn("no proxy configured, profile checks will be refused until one is set")
	}
	if len(cfg.SessionIDs) == 0 {
		log.Warn("no session ids configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("redis unreachable")
	}
	accountStore := store.NewRedis(redisClient, log)

	identities := device.NewCache()
	builder := headers.NewBuilder(identities)
	sessions := session.NewPool(cfg.SessionIDs)

	pool := client.NewPool(cfg.ProxyURL)
	defer pool.CloseAll()

	throttle := ratelimit.NewTokenJar(cfg.MaxChecksPerMinute, 1)
	defer throttle.Stop()

	api := client.NewAPI(pool, sessions, builder, client.APIConfig{
		ProxyURL:   cfg.ProxyURL,
		MaxRetries: cfg.MaxRetries,
		Throttle:   throttle,
	}, log)

	notifier, err := notify.NewTelegram(cfg.BotToken)
	if err != nil {
		log.WithError(err).Fatal("telegram bot init failed")
	}

	// Screenshot rendering is an external collaborator; without one wired
	// in, notifications degrade to text-only.
	svc := monitor.NewService(api, accountStore, notifier, nil, monitor.Config{
		MinCheckInterval:    cfg.MinInterval(),
		MaxCheckInterval:    cfg.MaxInterval(),
		GenerateScreenshots: cfg.GenerateScreenshots,
		BadgePath:           cfg.BadgePath,
	}, log)

	for _, entry := range cfg.Accounts {
		if entry.Username == "" || entry.ChatID == 0 {
			log.WithField("account", entry.Username).Warn("skipping incomplete account entry")
			continue
		}
		if err := accountStore.AddAccount(ctx, entry.Username, entry.ChatID); err != nil {
			log.WithError(err).WithField("account", entry.Username).Warn("failed to register account")
		}
	}

	if err := svc.ResumeAllMonitoring(ctx); err != nil {
		log.WithError(err).Fatal("failed to resume monitoring")
	}
	if svc.ActiveCount() == 0 {
		log.Warn("no accounts to monitor")
	}

	<-ctx.Done()

	// Plain shutdown: tasks stop, store entries survive for the next run.
	log.Info("shutting down")
	if err := svc.StopAllMonitoring(context.Background(), false); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	svc.Wait()
	log.Info("all monitor tasks stopped")
}
