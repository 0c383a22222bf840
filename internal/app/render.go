package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pscheid92/livealert/internal/domain"
)

const (
	FieldGame   = "Game"
	FieldStatus = "Status"

	StatusLive    = "🔴 Live"
	offlinePrefix = "⚫ Offline"

	DefaultTemplate = "{roles} {streamer} is now live! {url}"
)

// OfflineStatus is the Status field value shown after a stream ended at t.
func OfflineStatus(t time.Time) string {
	return fmt.Sprintf("%s since <t:%d:f>", offlinePrefix, t.Unix())
}

// IsOffline reports whether msg already shows the offline status.
func IsOffline(msg *domain.ChatMessage) bool {
	return msg.Embed != nil && strings.HasPrefix(msg.Embed.Field(FieldStatus), offlinePrefix)
}

// RoleMention formats a role id as a chat mention.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// Render builds the alert for one subscription.
func Render(sub domain.Subscription, s domain.StreamSession) domain.RenderedMessage {
	streamer := s.AccountName
	if streamer == "" {
		streamer = s.AccountID
	}

	mentions := make([]string, 0, len(sub.RoleIDs))
	for _, id := range sub.RoleIDs {
		mentions = append(mentions, RoleMention(id))
	}
	roles := strings.Join(mentions, " ")

	tmpl := sub.MessageTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	if roles != "" && !strings.Contains(tmpl, "{roles}") {
		tmpl = "{roles} " + tmpl
	}

	content := strings.NewReplacer(
		"{streamer}", streamer,
		"{title}", s.Title,
		"{game}", s.Game.Name,
		"{url}", s.StreamURL,
		"{roles}", roles,
	).Replace(tmpl)

	title := s.Title
	if title == "" {
		title = streamer + " is live"
	}
	game := s.Game.Name
	if game == "" {
		game = "Unknown"
	}

	return domain.RenderedMessage{
		Content: strings.Join(strings.Fields(content), " "),
		Embed: domain.Embed{
			Title:         title,
			URL:           s.StreamURL,
			AuthorName:    streamer,
			AuthorIconURL: s.AvatarURL,
			ImageURL:      s.ThumbnailURL,
			ThumbnailURL:  s.Game.ThumbnailURL,
			Timestamp:     s.StartTime.UTC(),
			Fields: []domain.EmbedField{
				{Name: FieldGame, Value: game, Inline: true},
				{Name: FieldStatus, Value: StatusLive, Inline: true},
			},
		},
		MentionRoleIDs: slices.Clone(sub.RoleIDs),
	}
}

// RenderOffline rewrites an existing alert with the offline status.
func RenderOffline(msg *domain.ChatMessage, endedAt time.Time) domain.RenderedMessage {
	var embed domain.Embed
	if msg.Embed != nil {
		embed = *msg.Embed
	}
	return domain.RenderedMessage{
		Content: msg.Content,
		Embed:   embed.WithField(FieldStatus, OfflineStatus(endedAt)),
	}
}

// Diff lists the visible differences between a posted alert and a fresh render.
func Diff(existing *domain.ChatMessage, prevRoles []string, next domain.RenderedMessage, nextRoles []string) []string {
	var changes []string
	if existing.Embed == nil {
		changes = append(changes, "embed")
	} else {
		cur := existing.Embed
		if cur.Title != next.Embed.Title {
			changes = append(changes, "title")
		}
		if cur.URL != next.Embed.URL {
			changes = append(changes, "url")
		}
		if cur.ImageURL != next.Embed.ImageURL {
			changes = append(changes, "thumbnail")
		}
		if cur.AuthorIconURL != next.Embed.AuthorIconURL {
			changes = append(changes, "avatar")
		}
		if cur.Field(FieldGame) != next.Embed.Field(FieldGame) {
			changes = append(changes, "game")
		}
		if cur.Field(FieldStatus) != next.Embed.Field(FieldStatus) {
			changes = append(changes, "status")
		}
	}

	if !sameRoles(prevRoles, nextRoles) {
		changes = append(changes, "roles")
	}
	return changes
}

func sameRoles(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
