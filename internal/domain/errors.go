package domain

import "errors"

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLockTimeout          = errors.New("lock acquisition timed out")

	// ErrMalformedEvent marks a bus entry that can never be handled and must not be redelivered.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPermissionDenied is terminal for the subscription that triggered it.
	ErrPermissionDenied = errors.New("chat platform permission denied")

	ErrNotFound        = errors.New("chat platform resource not found")
	ErrGuildNotFound   = notFound("guild not found")
	ErrChannelNotFound = notFound("channel not found")
	ErrMessageNotFound = notFound("message not found")
)

type notFoundError struct{ msg string }

func notFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
