package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livealert/internal/domain"
)

// ErrNotLive is returned when the account has no live stream.
var ErrNotLive = errors.New("stream not live")

const (
	thumbnailSize = "1280x720"
	streamBaseURL = "https://www.twitch.tv/"
)

// StreamResolver enriches stream sessions from Helix.
type StreamResolver struct {
	mu     sync.Mutex // serializes token refreshes
	client helixAPI
}

var _ domain.StreamResolver = (*StreamResolver)(nil)

func NewStreamResolver(client helixAPI) *StreamResolver {
	return &StreamResolver{client: client}
}

func (r *StreamResolver) ResolveSession(ctx context.Context, accountID string) (*domain.StreamSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streams, err := withTokenRefresh(r, func() (*helix.StreamsResponse, error) {
		resp, err := r.client.GetStreams(&helix.StreamsParams{UserIDs: []string{accountID}, First: 1})
		if err != nil {
			return nil, err
		}
		return resp, checkResponse(resp.ResponseCommon, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	if len(streams.Data.Streams) == 0 {
		return nil, ErrNotLive
	}
	s := streams.Data.Streams[0]

	session := &domain.StreamSession{
		ServiceType:  domain.ServiceTwitch,
		AccountID:    s.UserID,
		AccountName:  s.UserName,
		StreamID:     s.ID,
		StartTime:    s.StartedAt.UTC(),
		Title:        s.Title,
		ThumbnailURL: sizedImage(s.ThumbnailURL, thumbnailSize),
		StreamURL:    streamBaseURL + s.UserLogin,
		Game:         domain.Game{ID: s.GameID, Name: s.GameName},
	}

	// Avatar lookup is best effort.
	users, err := withTokenRefresh(r, func() (*helix.UsersResponse, error) {
		resp, err := r.client.GetUsers(&helix.UsersParams{IDs: []string{accountID}})
		if err != nil {
			return nil, err
		}
		return resp, checkResponse(resp.ResponseCommon, nil)
	})
	if err == nil && len(users.Data.Users) > 0 {
		session.AvatarURL = users.Data.Users[0].ProfileImageURL
	}
	return session, nil
}

// withTokenRefresh retries call once after refreshing an expired app token.
func withTokenRefresh[T any](r *StreamResolver, call func() (T, error)) (T, error) {
	v, err := call()
	if !isUnauthorized(err) {
		return v, err
	}

	r.mu.Lock()
	refreshErr := refreshAppToken(r.client)
	r.mu.Unlock()
	if refreshErr != nil {
		return v, errors.Join(err, refreshErr)
	}
	return call()
}

func sizedImage(template, size string) string {
	w, h, _ := strings.Cut(size, "x")
	return strings.NewReplacer("{width}", w, "{height}", h, "%{width}", w, "%{height}", h).Replace(template)
}
