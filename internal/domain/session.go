package domain

import "time"

// ServiceType names the external streaming service an account lives on.
type ServiceType string

const ServiceTwitch ServiceType = "twitch"

type Game struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// StreamSession is the payload of a "stream went online" event. It is built per
// inbound event and discarded after dispatch.
type StreamSession struct {
	ServiceType  ServiceType `json:"service_type"`
	AccountID    string      `json:"account_id"`
	AccountName  string      `json:"account_name"`
	AvatarURL    string      `json:"avatar_url"`
	StreamID     string      `json:"stream_id"`
	StartTime    time.Time   `json:"start_time"`
	Title        string      `json:"title"`
	ThumbnailURL string      `json:"thumbnail_url"`
	StreamURL    string      `json:"stream_url"`
	Game         Game        `json:"game"`
}

// SessionIdentity is what makes two deliveries the same session.
type SessionIdentity struct {
	ServiceType ServiceType
	AccountID   string
	StreamID    string
	StartTime   time.Time
}

func (s StreamSession) Identity() SessionIdentity {
	return SessionIdentity{
		ServiceType: s.ServiceType,
		AccountID:   s.AccountID,
		StreamID:    s.StreamID,
		StartTime:   s.StartTime.UTC(),
	}
}

// SameOutage reports whether two stream start times fall within one cooldown window.
// The window is half-open: starts exactly window apart are independent sessions.
func SameOutage(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
