package domain

import (
	"context"
	"time"
)

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is the structured part of an alert, reduced to what change detection needs.
type Embed struct {
	Title         string
	URL           string
	AuthorName    string
	AuthorIconURL string
	ImageURL      string
	ThumbnailURL  string
	Timestamp     time.Time
	Fields        []EmbedField
}

// Field returns the value of the named field, or "" when absent.
func (e Embed) Field(name string) string {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// WithField returns a copy of e with the named field set, appending it when missing.
func (e Embed) WithField(name, value string) Embed {
	fields := make([]EmbedField, 0, len(e.Fields)+1)
	found := false
	for _, f := range e.Fields {
		if f.Name == name {
			f.Value = value
			found = true
		}
		fields = append(fields, f)
	}
	if !found {
		fields = append(fields, EmbedField{Name: name, Value: value, Inline: true})
	}
	e.Fields = fields
	return e
}

// RenderedMessage is an alert ready to post.
type RenderedMessage struct {
	Content        string
	Embed          Embed
	MentionRoleIDs []string
}

// ChatMessage is a message as read back from the chat platform.
type ChatMessage struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Embed     *Embed
}

type Guild struct {
	ID    string
	Name  string
	Roles map[string]string // role id -> role name
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// ChatPlatform is the chat-platform client. Every call may fail with
// ErrPermissionDenied, an ErrNotFound variant, or a transient error.
type ChatPlatform interface {
	BotUserID() string
	ResolveGuild(ctx context.Context, guildID string) (*Guild, error)
	ResolveChannel(ctx context.Context, channelID string) (*Channel, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*ChatMessage, error)
	SendMessage(ctx context.Context, channelID string, msg RenderedMessage) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg RenderedMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
