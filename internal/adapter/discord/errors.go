package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/pscheid92/livealert/internal/domain"
)

// classify translates a discordgo error into the domain sentinels. notFound is the
// sentinel to use when the API answers 404 without a specific JSON error code.
// Anything unrecognised is returned wrapped and counts as transient.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", domain.ErrChannelNotFound, err)
		case discordgo.ErrCodeUnknownGuild:
			return fmt.Errorf("%w: %w", domain.ErrGuildNotFound, err)
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
		}
	}

	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", notFound, err)
		}
	}
	return err
}

// isClientError reports whether err is an answer about the request rather than a
// sign that the API is unhealthy. Such errors do not trip the breaker.
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrNotFound) || isRateLimited(err)
}

// isRateLimited reports a 429 surfaced by discordgo. It stays transient for callers.
func isRateLimited(err error) bool {
	_, ok := errors.AsType[*discordgo.RateLimitError](err)
	return ok
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case isRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}
