package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pscheid92/livealert/internal/domain"
)

func toMessageEmbed(e domain.Embed) *discordgo.MessageEmbed {
	me := &discordgo.MessageEmbed{
		Title: e.Title,
		URL:   e.URL,
	}
	if !e.Timestamp.IsZero() {
		me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	if e.AuthorName != "" || e.AuthorIconURL != "" {
		me.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIconURL}
	}
	if e.ImageURL != "" {
		me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return me
}

func fromMessageEmbed(me *discordgo.MessageEmbed) *domain.Embed {
	if me == nil {
		return nil
	}
	e := &domain.Embed{Title: me.Title, URL: me.URL}
	if me.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, me.Timestamp); err == nil {
			e.Timestamp = ts.UTC()
		}
	}
	if me.Author != nil {
		e.AuthorName = me.Author.Name
		e.AuthorIconURL = me.Author.IconURL
	}
	if me.Image != nil {
		e.ImageURL = me.Image.URL
	}
	if me.Thumbnail != nil {
		e.ThumbnailURL = me.Thumbnail.URL
	}
	for _, f := range me.Fields {
		if f == nil {
			continue
		}
		e.Fields = append(e.Fields, domain.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return e
}

func fromMessage(m *discordgo.Message) *domain.ChatMessage {
	msg := &domain.ChatMessage{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	if len(m.Embeds) > 0 {
		msg.Embed = fromMessageEmbed(m.Embeds[0])
	}
	return msg
}

// allowedMentions pings exactly the configured roles and nothing else.
func allowedMentions(roleIDs []string) *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{},
		Roles: roleIDs,
	}
}
