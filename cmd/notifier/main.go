package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livealert/internal/adapter/discord"
	"github.com/pscheid92/livealert/internal/adapter/httpserver"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/adapter/postgres"
	"github.com/pscheid92/livealert/internal/adapter/redis"
	"github.com/pscheid92/livealert/internal/adapter/twitch"
	"github.com/pscheid92/livealert/internal/app"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/config"
	"github.com/pscheid92/livealert/internal/platform/logging"
	"github.com/pscheid92/livealert/internal/platform/telemetry"
	"github.com/pscheid92/livealert/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const (
	leaderKey       = "leader:catchup"
	setupTimeout    = 10 * time.Second
	eventSubTimeout = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type appMetrics struct {
	http     *metrics.HTTPMetrics
	notify   *metrics.NotifyMetrics
	events   *metrics.EventMetrics
	redis    *metrics.RedisMetrics
	db       *metrics.DBMetrics
	breakers *metrics.BreakerMetrics
	chat     *metrics.ChatMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(m))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, m appMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewCircuitBreakerHook(m.breakers), redis.NewMetricsHook(m.redis))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupDiscord(cfg *config.Config, m appMetrics) *discord.Client {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	client, err := discord.Connect(ctx, cfg.DiscordBotToken, discord.Config{
		RequestsPerSecond: float64(cfg.DiscordRequestsPerSecond),
		Burst:             cfg.DiscordRequestsPerSecond,
	}, m.chat, m.breakers)
	if err != nil {
		slog.Error("Failed to connect to Discord", "error", err)
		os.Exit(1)
	}
	return client
}

func setupHelix(cfg *config.Config) *helix.Client {
	client, err := twitch.NewHelixClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	if err != nil {
		slog.Error("Failed to create Twitch client", "error", err)
		os.Exit(1)
	}
	return client
}

// syncEventSub is best effort: existing subscriptions keep delivering when it fails.
func syncEventSub(cfg *config.Config, client *helix.Client, subs *postgres.SubscriptionRepo) {
	if cfg.WebhookCallbackURL == "" {
		slog.Info("WEBHOOK_CALLBACK_URL not set, skipping EventSub sync")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventSubTimeout)
	defer cancel()

	syncer := twitch.NewEventSubSync(client, subs, cfg.WebhookCallbackURL, cfg.WebhookSecret)
	if err := syncer.Sync(ctx); err != nil {
		slog.Error("EventSub sync incomplete", "error", err)
	}
}

func setupEventBus(rdb *goredis.Client, cfg *config.Config, m *metrics.EventMetrics) *redis.EventBus {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	bus := redis.NewEventBus(rdb, redis.EventBusConfig{
		Stream:            cfg.EventStream,
		Group:             cfg.EventGroup,
		MaxDeliveries:     int64(cfg.EventMaxDeliveries),
		VisibilityTimeout: cfg.EventVisibilityTimeout,
	}, m)
	if err := bus.EnsureGroup(ctx); err != nil {
		slog.Error("Failed to create event consumer group", "error", err)
		os.Exit(1)
	}
	return bus
}

// publishStartupCatchup queues one reconciliation sweep so offline transitions
// missed while no instance was running are replayed.
func publishStartupCatchup(bus *redis.EventBus, clock clockwork.Clock) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	err := bus.Publish(ctx, domain.Event{
		Type:        domain.EventStartupCatchup,
		Service:     domain.ServiceTwitch,
		PublishedAt: clock.Now(),
	})
	if err != nil {
		slog.Error("Failed to queue startup catch-up", "error", err)
	}
}

func setupScheduler(cfg *config.Config, rdb *goredis.Client, reconciler *app.StartupReconciler) *app.CatchupScheduler {
	if cfg.CatchupSchedule == "" {
		return nil
	}

	instanceID := uuid.NewString()
	leader := redis.NewLeaderElection(rdb, leaderKey, instanceID, app.CatchupLeaseTTL)
	scheduler, err := app.NewCatchupScheduler(cfg.CatchupSchedule, leader, reconciler, domain.ServiceTwitch)
	if err != nil {
		slog.Error("Failed to create catch-up scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	slog.Info("Catch-up scheduler started", "schedule", cfg.CatchupSchedule, "instance_id", instanceID)
	return scheduler
}

func healthChecks(pool *pgxpool.Pool, rdb *goredis.Client, chat *discord.Client) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		{Name: "discord", Optional: true, Check: func(context.Context) error {
			if chat.BreakerState() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		}},
	}
}

func runGracefulShutdown(srv *httpserver.Server, cancelWorkers context.CancelFunc, workersDone <-chan struct{}, scheduler *app.CatchupScheduler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if scheduler != nil {
			scheduler.Stop()
		}

		cancelWorkers()
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			slog.Warn("Event worker did not stop in time")
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	shutdownTracing, err := telemetry.InitTracing(info.Service, info.Version)
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	reg := metrics.NewRegistry()
	m := appMetrics{
		http:     metrics.NewHTTPMetrics(reg),
		notify:   metrics.NewNotifyMetrics(reg),
		events:   metrics.NewEventMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
		db:       metrics.NewDBMetrics(reg),
		breakers: metrics.NewBreakerMetrics(reg),
		chat:     metrics.NewChatMetrics(reg),
	}

	pool := setupDB(cfg, m.db)
	defer pool.Close()

	redisClient := setupRedis(cfg, m)
	defer func() { _ = redisClient.Close() }()

	chat := setupDiscord(cfg, m)
	helixClient := setupHelix(cfg)

	subs := postgres.NewSubscriptionRepo(pool)
	notifications := postgres.NewNotificationRepo(pool)

	syncEventSub(cfg, helixClient, subs)

	locker := app.NewLocker(redis.NewMutex(redisClient), app.LockConfig{
		TTL:            cfg.LockTTL,
		MaxAttempts:    cfg.LockMaxAttempts,
		InitialBackoff: cfg.LockInitialBackoff,
		PerChannel:     cfg.LockPerChannel,
	}, clock, m.notify)

	reaper := app.NewStaleNotificationReaper(notifications, chat, clock, m.notify)
	dispatcher := app.NewDispatcher(subs, notifications, chat, locker, app.NewCooldownResolver(cfg.CooldownWindow), reaper, clock, m.notify)
	offline := app.NewOfflineMarker(subs, notifications, chat, locker, cfg.OfflineEligible, clock, m.notify)
	reconciler := app.NewStartupReconciler(subs, notifications, chat, locker, offline, app.ReconcilerConfig{
		Lookback:     cfg.CatchupLookback,
		OfflineAfter: cfg.CatchupOfflineAfter,
	}, clock, m.notify)

	bus := setupEventBus(redisClient, cfg, m.events)
	publishStartupCatchup(bus, clock)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	worker := app.NewWorker(bus, dispatcher, offline, reconciler, cfg.WorkerConcurrency, m.events)
	go func() {
		worker.Run(workerCtx)
		close(workersDone)
	}()

	scheduler := setupScheduler(cfg, redisClient, reconciler)

	webhook := twitch.NewWebhookHandler(
		cfg.WebhookSecret,
		twitch.NewStreamResolver(helixClient),
		redis.NewDebouncer(redisClient, cfg.QueuedDebounceWindow),
		bus,
	)

	srv := httpserver.NewServer(
		httpserver.Config{Port: cfg.Port, WebhookRateLimit: cfg.WebhookRateLimit},
		webhook,
		metrics.Handler(reg),
		m.http,
		healthChecks(pool, redisClient, chat),
	)

	done := runGracefulShutdown(srv, cancelWorkers, workersDone, scheduler)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
