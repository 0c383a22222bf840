package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// OutcomeKind tags the result of the last action taken on a notification.
type OutcomeKind int

const (
	OutcomePending    OutcomeKind = iota // created, send not attempted yet
	OutcomeSent                          // message posted
	OutcomeSuppressed                    // duplicate of an active alert
	OutcomeEdited                        // active alert updated in place
	OutcomeOffline                       // active alert flipped to offline
	OutcomeRetired                       // stale alert deleted
	OutcomeFailed                        // send or access failed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeSent:
		return "sent"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeEdited:
		return "edited"
	case OutcomeOffline:
		return "offline"
	case OutcomeRetired:
		return "retired"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseOutcomeKind is the inverse of OutcomeKind.String.
func ParseOutcomeKind(s string) OutcomeKind {
	switch s {
	case "sent":
		return OutcomeSent
	case "suppressed":
		return OutcomeSuppressed
	case "edited":
		return OutcomeEdited
	case "offline":
		return OutcomeOffline
	case "retired":
		return OutcomeRetired
	case "failed":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// Outcome is the tagged result stored on a NotificationRecord. Reason carries the
// human readable log line.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Sent() Outcome                       { return Outcome{Kind: OutcomeSent, Reason: "sent"} }
func Edited(reason string) Outcome        { return Outcome{Kind: OutcomeEdited, Reason: reason} }
func Suppressed(reason string) Outcome    { return Outcome{Kind: OutcomeSuppressed, Reason: reason} }
func MarkedOffline(reason string) Outcome { return Outcome{Kind: OutcomeOffline, Reason: reason} }
func Retired(reason string) Outcome       { return Outcome{Kind: OutcomeRetired, Reason: reason} }
func Failed(reason string) Outcome        { return Outcome{Kind: OutcomeFailed, Reason: reason} }

// Success reports whether the record counts as a delivered alert.
func (o Outcome) Success() bool {
	switch o.Kind {
	case OutcomeSent, OutcomeSuppressed, OutcomeEdited, OutcomeOffline:
		return true
	default:
		return false
	}
}

// NotificationRecord tracks one alert for one session at one destination.
// Records are mutated over their life and never hard-deleted.
type NotificationRecord struct {
	ID              uuid.UUID
	ServiceType     ServiceType
	AccountID       string
	StreamID        string
	StreamStartTime time.Time
	GuildID         string
	ChannelID       string
	MessageID       string // empty when no chat message is attached
	Outcome         Outcome
	RenderedMessage string
	Title           string
	StreamURL       string
	ThumbnailURL    string
	AvatarURL       string
	Game            Game
	RoleNames       []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FunctionalKey is the lookup predicate used for create-or-fetch.
type FunctionalKey struct {
	AccountID       string
	StreamID        string
	StreamStartTime time.Time
	GuildID         string
	ChannelID       string
	GameID          string
}

func (r NotificationRecord) Key() FunctionalKey {
	return FunctionalKey{
		AccountID:       r.AccountID,
		StreamID:        r.StreamID,
		StreamStartTime: r.StreamStartTime.UTC(),
		GuildID:         r.GuildID,
		ChannelID:       r.ChannelID,
		GameID:          r.Game.ID,
	}
}

// HasMessage reports whether the record points at a chat message.
func (r NotificationRecord) HasMessage() bool { return r.MessageID != "" }

// ApplySession copies the descriptive session fields into the record.
func (r *NotificationRecord) ApplySession(s StreamSession) {
	r.StreamID = s.StreamID
	r.StreamStartTime = s.StartTime.UTC()
	r.Title = s.Title
	r.StreamURL = s.StreamURL
	r.ThumbnailURL = s.ThumbnailURL
	r.AvatarURL = s.AvatarURL
	r.Game = s.Game
}

// Equal compares records field by field.
func (r NotificationRecord) Equal(o NotificationRecord) bool {
	return r.ID == o.ID &&
		r.ServiceType == o.ServiceType &&
		r.AccountID == o.AccountID &&
		r.StreamID == o.StreamID &&
		r.StreamStartTime.Equal(o.StreamStartTime) &&
		r.GuildID == o.GuildID &&
		r.ChannelID == o.ChannelID &&
		r.MessageID == o.MessageID &&
		r.Outcome == o.Outcome &&
		r.RenderedMessage == o.RenderedMessage &&
		r.Title == o.Title &&
		r.StreamURL == o.StreamURL &&
		r.ThumbnailURL == o.ThumbnailURL &&
		r.AvatarURL == o.AvatarURL &&
		r.Game == o.Game &&
		slices.Equal(r.RoleNames, o.RoleNames)
}

// Destination identifies one (account, guild, channel) alert slot.
type Destination struct {
	ServiceType ServiceType
	AccountID   string
	GuildID     string
	ChannelID   string
}

func (s Subscription) Destination() Destination {
	return Destination{ServiceType: s.ServiceType, AccountID: s.AccountID, GuildID: s.GuildID, ChannelID: s.ChannelID}
}

type NotificationRepository interface {
	// History returns the successful records of a destination, newest stream start first.
	History(ctx context.Context, dest Destination) ([]NotificationRecord, error)
	// LatestWithMessage returns the newest successful record that carries a message id.
	LatestWithMessage(ctx context.Context, dest Destination) (*NotificationRecord, error)
	// ListWithMessageSince is History restricted to records with a message id and a
	// stream start at or after since.
	ListWithMessageSince(ctx context.Context, dest Destination, since time.Time) ([]NotificationRecord, error)
	// AddOrGet inserts candidate unless a record with the same functional key exists,
	// and returns the stored record either way.
	AddOrGet(ctx context.Context, candidate NotificationRecord) (*NotificationRecord, error)
	Update(ctx context.Context, record NotificationRecord) error
}
