package twitch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/livealert/internal/platform/version"
)

const helixRequestTimeout = 10 * time.Second

// helixAPI is the subset of *helix.Client the adapter uses.
type helixAPI interface {
	GetStreams(params *helix.StreamsParams) (*helix.StreamsResponse, error)
	GetUsers(params *helix.UsersParams) (*helix.UsersResponse, error)
	GetEventSubSubscriptions(params *helix.EventSubSubscriptionsParams) (*helix.EventSubSubscriptionsResponse, error)
	CreateEventSubSubscription(payload *helix.EventSubSubscription) (*helix.EventSubSubscriptionsResponse, error)
	RequestAppAccessToken(scopes []string) (*helix.AppAccessTokenResponse, error)
	SetAppAccessToken(accessToken string)
}

var _ helixAPI = (*helix.Client)(nil)

// NewHelixClient creates an app-authenticated Helix client.
func NewHelixClient(clientID, clientSecret string) (*helix.Client, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserAgent:    version.UserAgent(),
		HTTPClient:   &http.Client{Timeout: helixRequestTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	if err := refreshAppToken(client); err != nil {
		return nil, err
	}
	return client, nil
}

func refreshAppToken(client helixAPI) error {
	resp, err := client.RequestAppAccessToken(nil)
	if err != nil {
		return fmt.Errorf("failed to get app access token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to get app access token: %w", &APIError{StatusCode: resp.StatusCode, Message: resp.ErrorMessage})
	}
	client.SetAppAccessToken(resp.Data.AccessToken)
	return nil
}

// APIError is a non-2xx Helix answer. The helix client reports those in the response
// rather than as errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.StatusCode, e.Message)
}

func checkResponse(common helix.ResponseCommon, err error) error {
	if err != nil {
		return err
	}
	if common.StatusCode >= 200 && common.StatusCode < 300 {
		return nil
	}
	return &APIError{StatusCode: common.StatusCode, Message: common.ErrorMessage}
}

func isUnauthorized(err error) bool {
	apiErr, ok := errors.AsType[*APIError](err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}
