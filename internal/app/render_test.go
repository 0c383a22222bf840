package app

import (
	"testing"
	"time"

	"github.com/pscheid92/livealert/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRender_DefaultTemplate(t *testing.T) {
	sub := testSubscription(false)
	sub.RoleIDs = []string{"r1", "r2"}

	msg := Render(sub, testSession("abc", t0))

	assert.Equal(t, "<@&r1> <@&r2> Nova is now live! https://twitch.tv/nova", msg.Content)
	assert.Equal(t, []string{"r1", "r2"}, msg.MentionRoleIDs)
	assert.Equal(t, "Speedrunning all night", msg.Embed.Title)
	assert.Equal(t, "Celeste", msg.Embed.Field(FieldGame))
	assert.Equal(t, StatusLive, msg.Embed.Field(FieldStatus))
	assert.Equal(t, "https://cdn.example/nova.png", msg.Embed.AuthorIconURL)
}

func TestRender_CustomTemplate(t *testing.T) {
	sub := testSubscription(false)
	sub.MessageTemplate = "{streamer} plays {game}: {title}"
	sub.RoleIDs = []string{"r1"}

	msg := Render(sub, testSession("abc", t0))

	assert.Equal(t, "<@&r1> Nova plays Celeste: Speedrunning all night", msg.Content)
}

func TestRender_MissingFieldsFallBack(t *testing.T) {
	s := testSession("abc", t0)
	s.AccountName = ""
	s.Title = ""
	s.Game = domain.Game{}

	msg := Render(testSubscription(false), s)

	assert.Equal(t, "nova is now live! https://twitch.tv/nova", msg.Content)
	assert.Equal(t, "nova is live", msg.Embed.Title)
	assert.Equal(t, "Unknown", msg.Embed.Field(FieldGame))
}

func TestRenderOffline_ReplacesStatus(t *testing.T) {
	live := Render(testSubscription(true), testSession("abc", t0))
	msg := &domain.ChatMessage{ID: "M1", AuthorID: botID, Content: live.Content, Embed: &live.Embed}
	ended := t0.Add(3 * time.Hour)

	offline := RenderOffline(msg, ended)

	assert.Equal(t, live.Content, offline.Content)
	assert.Equal(t, OfflineStatus(ended), offline.Embed.Field(FieldStatus))
	assert.Len(t, offline.Embed.Fields, 2)
	assert.Equal(t, StatusLive, msg.Embed.Field(FieldStatus), "source message must not be mutated")
	assert.True(t, IsOffline(&domain.ChatMessage{Embed: &offline.Embed}))
	assert.False(t, IsOffline(msg))
}

func TestOfflineStatus_Format(t *testing.T) {
	assert.Equal(t, "⚫ Offline since <t:1773511200:f>", OfflineStatus(t0))
}

func TestDiff(t *testing.T) {
	sub := testSubscription(true)
	base := Render(sub, testSession("abc", t0))
	existing := &domain.ChatMessage{Embed: &base.Embed}

	assert.Empty(t, Diff(existing, []string{"b", "a"}, base, []string{"a", "b"}))
	assert.Equal(t, []string{"embed"}, Diff(&domain.ChatMessage{}, nil, base, nil))

	s := testSession("abc", t0)
	s.Title = "New title"
	s.AvatarURL = "https://cdn.example/new.png"
	s.StreamURL = "https://twitch.tv/nova2"
	assert.Equal(t, []string{"title", "url", "avatar"}, Diff(existing, nil, Render(sub, s), nil))

	offline := base.Embed.WithField(FieldStatus, OfflineStatus(t0))
	assert.Equal(t, []string{"status"}, Diff(&domain.ChatMessage{Embed: &offline}, nil, base, nil))
}
