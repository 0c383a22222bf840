package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	userFn    func(string) (*discordgo.User, error)
	guildFn   func(string) (*discordgo.Guild, error)
	channelFn func(string) (*discordgo.Channel, error)
	messageFn func(string, string) (*discordgo.Message, error)
	sendFn    func(string, *discordgo.MessageSend) (*discordgo.Message, error)
	editFn    func(*discordgo.MessageEdit) (*discordgo.Message, error)
	deleteFn  func(string, string) error
}

func (f *fakeAPI) User(id string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	return f.userFn(id)
}

func (f *fakeAPI) Guild(id string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return f.guildFn(id)
}

func (f *fakeAPI) Channel(id string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return f.channelFn(id)
}

func (f *fakeAPI) ChannelMessage(ch, id string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.messageFn(ch, id)
}

func (f *fakeAPI) ChannelMessageSendComplex(ch string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.sendFn(ch, data)
}

func (f *fakeAPI) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.editFn(m)
}

func (f *fakeAPI) ChannelMessageDelete(ch, id string, _ ...discordgo.RequestOption) error {
	return f.deleteFn(ch, id)
}

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "boom"},
	}
}

func newTestClient(api restAPI) (*Client, *metrics.ChatMetrics) {
	reg := prometheus.NewRegistry()
	m := metrics.NewChatMetrics(reg)
	return NewClient(api, "bot-1", Config{RequestsPerSecond: 1000, Burst: 1000}, m, metrics.NewBreakerMetrics(reg)), m
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"missing permissions", restError(403, discordgo.ErrCodeMissingPermissions), domain.ErrPermissionDenied},
		{"missing access", restError(403, discordgo.ErrCodeMissingAccess), domain.ErrPermissionDenied},
		{"unknown channel", restError(404, discordgo.ErrCodeUnknownChannel), domain.ErrChannelNotFound},
		{"unknown guild", restError(404, discordgo.ErrCodeUnknownGuild), domain.ErrGuildNotFound},
		{"unknown message", restError(404, discordgo.ErrCodeUnknownMessage), domain.ErrMessageNotFound},
		{"bare 403", restError(403, 0), domain.ErrPermissionDenied},
		{"bare 404 uses context", restError(404, 0), domain.ErrMessageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, domain.ErrMessageNotFound)
			assert.ErrorIs(t, err, tt.target)

			var restErr *discordgo.RESTError
			assert.ErrorAs(t, err, &restErr, "original error stays reachable")
		})
	}

	t.Run("server error stays transient", func(t *testing.T) {
		err := classify(restError(502, 0), domain.ErrMessageNotFound)
		assert.False(t, isClientError(err))
	})
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, classify(nil, domain.ErrMessageNotFound))
	})
}

func TestFetchMessage_ConvertsEmbed(t *testing.T) {
	api := &fakeAPI{messageFn: func(ch, id string) (*discordgo.Message, error) {
		return &discordgo.Message{
			ID: id, ChannelID: ch, Content: "<@&r1> nova is now live!",
			Author: &discordgo.User{ID: "bot-1"},
			Embeds: []*discordgo.MessageEmbed{{
				Title:     "Speedrun",
				URL:       "https://twitch.tv/nova",
				Timestamp: "2026-03-14T18:00:00Z",
				Author:    &discordgo.MessageEmbedAuthor{Name: "nova", IconURL: "https://img/avatar.png"},
				Image:     &discordgo.MessageEmbedImage{URL: "https://img/thumb.jpg"},
				Fields:    []*discordgo.MessageEmbedField{{Name: "Game", Value: "Celeste", Inline: true}},
			}},
		}, nil
	}}
	c, m := newTestClient(api)

	msg, err := c.FetchMessage(context.Background(), "C", "m1")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", msg.AuthorID)
	require.NotNil(t, msg.Embed)
	assert.Equal(t, "Speedrun", msg.Embed.Title)
	assert.Equal(t, "https://img/avatar.png", msg.Embed.AuthorIconURL)
	assert.Equal(t, "https://img/thumb.jpg", msg.Embed.ImageURL)
	assert.Equal(t, "Celeste", msg.Embed.Field("Game"))
	assert.Equal(t, time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), msg.Embed.Timestamp)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("fetch_message", "ok")), 0)
}

func TestFetchMessage_NotFound(t *testing.T) {
	api := &fakeAPI{messageFn: func(string, string) (*discordgo.Message, error) {
		return nil, restError(404, discordgo.ErrCodeUnknownMessage)
	}}
	c, m := newTestClient(api)

	_, err := c.FetchMessage(context.Background(), "C", "m1")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Requests.WithLabelValues("fetch_message", "not_found")), 0)
}

func TestSendMessage_RestrictsMentionsToRoles(t *testing.T) {
	var got *discordgo.MessageSend
	api := &fakeAPI{sendFn: func(_ string, data *discordgo.MessageSend) (*discordgo.Message, error) {
		got = data
		return &discordgo.Message{ID: "m9"}, nil
	}}
	c, _ := newTestClient(api)

	id, err := c.SendMessage(context.Background(), "C", domain.RenderedMessage{
		Content:        "<@&r1> nova is now live!",
		Embed:          domain.Embed{Title: "Speedrun"},
		MentionRoleIDs: []string{"r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m9", id)
	require.NotNil(t, got.AllowedMentions)
	assert.Empty(t, got.AllowedMentions.Parse)
	assert.Equal(t, []string{"r1"}, got.AllowedMentions.Roles)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Speedrun", got.Embeds[0].Title)
}

func TestEditMessage_PermissionDenied(t *testing.T) {
	api := &fakeAPI{editFn: func(m *discordgo.MessageEdit) (*discordgo.Message, error) {
		assert.Equal(t, "m1", m.ID)
		return nil, restError(403, discordgo.ErrCodeMissingPermissions)
	}}
	c, _ := newTestClient(api)

	err := c.EditMessage(context.Background(), "C", "m1", domain.RenderedMessage{Content: "x"})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestResolveGuild_CollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	api := &fakeAPI{guildFn: func(id string) (*discordgo.Guild, error) {
		calls.Add(1)
		<-release
		return &discordgo.Guild{ID: id, Name: "Nova's Den", Roles: []*discordgo.Role{{ID: "r1", Name: "Live Pings"}}}, nil
	}}
	c, _ := newTestClient(api)

	var wg sync.WaitGroup
	results := make([]*domain.Guild, 8)
	for i := range results {
		wg.Go(func() {
			g, err := c.ResolveGuild(context.Background(), "G")
			assert.NoError(t, err)
			results[i] = g
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, g := range results {
		require.NotNil(t, g)
		assert.Equal(t, "Live Pings", g.Roles["r1"])
	}
}

func TestBreaker_OpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int32
	status.Store(404)
	api := &fakeAPI{channelFn: func(string) (*discordgo.Channel, error) {
		return nil, restError(int(status.Load()), 0)
	}}
	c, _ := newTestClient(api)
	ctx := context.Background()

	for range 10 {
		_, err := c.ResolveChannel(ctx, "C")
		assert.ErrorIs(t, err, domain.ErrChannelNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(), "not found answers do not trip the breaker")

	// 15 failures against the 10 earlier answers cross the 60% failure rate.
	status.Store(502)
	for range 15 {
		_, _ = c.ResolveChannel(ctx, "C")
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.ResolveChannel(ctx, "C")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestDeleteMessage_Ok(t *testing.T) {
	var deleted string
	api := &fakeAPI{deleteFn: func(_, id string) error { deleted = id; return nil }}
	c, _ := newTestClient(api)

	require.NoError(t, c.DeleteMessage(context.Background(), "C", "m1"))
	assert.Equal(t, "m1", deleted)
	assert.Equal(t, "bot-1", c.BotUserID())
}
