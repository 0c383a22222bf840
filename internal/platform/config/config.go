package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"8080"`
	DatabaseURL        string `env:"DATABASE_URL"`
	RedisURL           string `env:"REDIS_URL"`
	DiscordBotToken    string `env:"DISCORD_BOT_TOKEN"`
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`
	// WebhookCallbackURL is the public URL of /webhooks/eventsub. Empty skips
	// EventSub subscription sync at boot.
	WebhookCallbackURL string  `env:"WEBHOOK_CALLBACK_URL"`
	WebhookRateLimit   float64 `env:"WEBHOOK_RATE_LIMIT" default:"50"`
	LogLevel           string  `env:"LOG_LEVEL" default:"info"`
	LogFormat          string  `env:"LOG_FORMAT" default:"text"`

	CooldownWindow     time.Duration `env:"COOLDOWN_WINDOW" default:"60m"`
	LockTTL            time.Duration `env:"LOCK_TTL" default:"30s"`
	LockMaxAttempts    int           `env:"LOCK_MAX_ATTEMPTS" default:"10"`
	LockInitialBackoff time.Duration `env:"LOCK_INITIAL_BACKOFF" default:"100ms"`
	LockPerChannel     bool          `env:"LOCK_PER_CHANNEL" default:"false"`

	// OfflineGuildAllowList restricts offline marking to these guilds. Empty means
	// every edit-in-place destination is eligible.
	OfflineGuildAllowList []string `env:"OFFLINE_GUILD_ALLOWLIST"`

	CatchupLookback     time.Duration `env:"CATCHUP_LOOKBACK" default:"168h"` // 7 days
	CatchupOfflineAfter time.Duration `env:"CATCHUP_OFFLINE_AFTER" default:"8h"`
	CatchupSchedule     string        `env:"CATCHUP_SCHEDULE"`

	WorkerConcurrency      int           `env:"WORKER_CONCURRENCY" default:"4"`
	EventStream            string        `env:"EVENT_STREAM" default:"livealert:events"`
	EventGroup             string        `env:"EVENT_GROUP" default:"dispatchers"`
	EventMaxDeliveries     int           `env:"EVENT_MAX_DELIVERIES" default:"5"`
	EventVisibilityTimeout time.Duration `env:"EVENT_VISIBILITY_TIMEOUT" default:"2m"`
	QueuedDebounceWindow   time.Duration `env:"QUEUED_DEBOUNCE_WINDOW" default:"5m"`

	DiscordRequestsPerSecond int `env:"DISCORD_REQUESTS_PER_SECOND" default:"5"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"DISCORD_BOT_TOKEN", cfg.DiscordBotToken},
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
		{"WEBHOOK_SECRET", cfg.WebhookSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100 {
		return errors.New("WEBHOOK_SECRET must be between 10 and 100 characters")
	}

	if cfg.CooldownWindow <= 0 {
		return errors.New("COOLDOWN_WINDOW must be positive")
	}
	if cfg.LockTTL < time.Second {
		return errors.New("LOCK_TTL must be at least 1s")
	}
	if cfg.LockMaxAttempts < 1 {
		return errors.New("LOCK_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.CatchupOfflineAfter <= 0 || cfg.CatchupLookback < cfg.CatchupOfflineAfter {
		return errors.New("CATCHUP_LOOKBACK must be at least CATCHUP_OFFLINE_AFTER, and both positive")
	}
	if cfg.WorkerConcurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.EventMaxDeliveries < 1 {
		return errors.New("EVENT_MAX_DELIVERIES must be at least 1")
	}
	if cfg.WebhookRateLimit <= 0 {
		return errors.New("WEBHOOK_RATE_LIMIT must be positive")
	}
	if cfg.DiscordRequestsPerSecond < 1 {
		return errors.New("DISCORD_REQUESTS_PER_SECOND must be at least 1")
	}

	return nil
}

// OfflineEligible reports whether offline marking may touch alerts in guildID.
func (c *Config) OfflineEligible(guildID string) bool {
	return len(c.OfflineGuildAllowList) == 0 || slices.Contains(c.OfflineGuildAllowList, guildID)
}
