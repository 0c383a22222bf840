package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/pscheid92/livealert/internal/platform/version"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const breakerComponent = "discord"

// restAPI is the subset of *discordgo.Session the client uses.
type restAPI interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

var _ restAPI = (*discordgo.Session)(nil)

type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Client is the chat platform client. Calls share a client-side rate limiter and a
// circuit breaker that only counts transport and server failures.
type Client struct {
	api       restAPI
	botUserID string
	limiter   *rate.Limiter
	cb        *gobreaker.CircuitBreaker
	guilds    singleflight.Group
	metrics   *metrics.ChatMetrics
}

var _ domain.ChatPlatform = (*Client)(nil)

// Connect creates a REST session for the bot token and resolves the bot's own user id.
func Connect(ctx context.Context, token string, cfg Config, m *metrics.ChatMetrics, bm *metrics.BreakerMetrics) (*Client, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.UserAgent = version.DiscordUserAgent()
	// Sends are not idempotent and the lock lease bounds every call, so discordgo must
	// neither resend on 502 nor sleep through a 429. Redelivery retries instead.
	session.MaxRestRetries = 0
	session.ShouldRetryOnRateLimit = false

	me, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bot user: %w", err)
	}
	slog.Info("Discord bot resolved", "bot_user_id", me.ID, "username", me.Username)

	return NewClient(session, me.ID, cfg, m, bm), nil
}

func NewClient(api restAPI, botUserID string, cfg Config, m *metrics.ChatMetrics, bm *metrics.BreakerMetrics) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerComponent,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", breakerComponent, "from", from.String(), "to", to.String())
			bm.StateChanges.WithLabelValues(breakerComponent, to.String()).Inc()
			bm.State.WithLabelValues(breakerComponent).Set(float64(to))
		},
	})

	return &Client{
		api:       api,
		botUserID: botUserID,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:        cb,
		metrics:   m,
	}
}

func (c *Client) BotUserID() string { return c.botUserID }

// BreakerState exposes the breaker for health reporting.
func (c *Client) BreakerState() gobreaker.State { return c.cb.State() }

// do waits for the rate limiter, runs fn through the breaker and classifies its error.
func (c *Client) do(ctx context.Context, operation string, notFound error, fn func(opt discordgo.RequestOption) error) error {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord rate limiter: %w", err)
	}
	c.metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())

	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, classify(fn(discordgo.WithContext(ctx)), notFound)
	})
	c.metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	c.metrics.Requests.WithLabelValues(operation, resultLabel(err)).Inc()

	if err != nil {
		return fmt.Errorf("discord %s: %w", operation, err)
	}
	return nil
}

// ResolveGuild collapses concurrent lookups of the same guild into one API call.
func (c *Client) ResolveGuild(ctx context.Context, guildID string) (*domain.Guild, error) {
	v, err, _ := c.guilds.Do(guildID, func() (any, error) {
		var g *discordgo.Guild
		err := c.do(ctx, "resolve_guild", domain.ErrGuildNotFound, func(opt discordgo.RequestOption) error {
			var err error
			g, err = c.api.Guild(guildID, opt)
			return err
		})
		if err != nil {
			return nil, err
		}

		guild := &domain.Guild{ID: g.ID, Name: g.Name, Roles: make(map[string]string, len(g.Roles))}
		for _, r := range g.Roles {
			guild.Roles[r.ID] = r.Name
		}
		return guild, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Guild), nil
}

func (c *Client) ResolveChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	var ch *discordgo.Channel
	err := c.do(ctx, "resolve_channel", domain.ErrChannelNotFound, func(opt discordgo.RequestOption) error {
		var err error
		ch, err = c.api.Channel(channelID, opt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name}, nil
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ChatMessage, error) {
	var m *discordgo.Message
	err := c.do(ctx, "fetch_message", domain.ErrMessageNotFound, func(opt discordgo.RequestOption) error {
		var err error
		m, err = c.api.ChannelMessage(channelID, messageID, opt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromMessage(m), nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg domain.RenderedMessage) (string, error) {
	var sent *discordgo.Message
	err := c.do(ctx, "send_message", domain.ErrChannelNotFound, func(opt discordgo.RequestOption) error {
		var err error
		sent, err = c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         msg.Content,
			Embeds:          []*discordgo.MessageEmbed{toMessageEmbed(msg.Embed)},
			AllowedMentions: allowedMentions(msg.MentionRoleIDs),
		}, opt)
		return err
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg domain.RenderedMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(msg.Content).
		SetEmbeds([]*discordgo.MessageEmbed{toMessageEmbed(msg.Embed)})
	edit.AllowedMentions = allowedMentions(msg.MentionRoleIDs)

	return c.do(ctx, "edit_message", domain.ErrMessageNotFound, func(opt discordgo.RequestOption) error {
		_, err := c.api.ChannelMessageEditComplex(edit, opt)
		return err
	})
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, "delete_message", domain.ErrMessageNotFound, func(opt discordgo.RequestOption) error {
		return c.api.ChannelMessageDelete(channelID, messageID, opt)
	})
}
