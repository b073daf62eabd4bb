package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/chat"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/directory"
	"escrowflow/listing"
	"escrowflow/live"
	"escrowflow/notify"
	"escrowflow/outbox"
	"escrowflow/reminder"
	"escrowflow/transaction"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer rdb.Close()
	}

	hub := live.NewHub(log)

	var presence directory.Presence
	var broadcaster interface{ Publish(room string, event any) } = hub
	var relay *live.Relay
	if rdb != nil {
		presence = directory.NewPresence(rdb)
		relay = live.NewRelay(hub, rdb, log)
		broadcaster = relay
	} else {
		presence = directory.NewNoopPresence()
		log.Warn("redis not configured, presence and cross-instance fan-out disabled")
	}

	directorySvc := directory.NewService(directory.NewRepository(pool), presence)
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWT.Secret, cfg.JWT.TTL)

	txStore := transaction.NewStore(pool)
	payments := transaction.NewConfirmations(pool)
	txSvc := transaction.NewService(pool, txStore, transaction.ServiceOptions{
		Listings:        listing.NewRepository(pool),
		Payments:        payments,
		Presence:        directorySvc,
		PlatformFeeRate: cfg.Fees.PlatformRate,
		EscrowFeeRate:   cfg.Fees.EscrowRate,
	})

	chatSvc := chat.NewService(pool, chat.NewRepository(pool), txStore, broadcaster)
	notifySvc := notify.NewService(notify.NewRepository(pool), broadcaster, log)
	scheduler := reminder.NewScheduler(txStore, notifySvc, log)
	defer scheduler.Stop()

	dispatcher := outbox.NewDispatcher(pool, txStore, notifySvc, broadcaster, log, outbox.Options{})

	router := api.NewRouter(api.Handlers{
		Auth:          api.NewAuthHandler(authSvc, log),
		Transactions:  api.NewTransactionHandler(txSvc, scheduler, cfg.Reminder, log),
		Chat:          api.NewChatHandler(chatSvc, log),
		Notifications: api.NewNotificationHandler(notifySvc),
		Directory:     api.NewDirectoryHandler(directorySvc),
		Webhook:       api.NewWebhookHandler(payments, cfg.Payment.WebhookSecret, log),
		WS:            api.NewWSHandler(hub, chatSvc, directorySvc, log),
	}, authSvc, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if relay != nil {
		g.Go(func() error {
			err := relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
