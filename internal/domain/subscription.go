package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subscription binds a monitored account to a destination (guild, channel) plus
// presentation settings. It is owned by the command surface; the dispatcher only
// reads it and removes it when the destination became unusable.
type Subscription struct {
	ID              uuid.UUID
	ServiceType     ServiceType
	AccountID       string
	GuildID         string
	ChannelID       string
	MessageTemplate string
	RoleIDs         []string
	EditInPlace     bool
	CreatedAt       time.Time
}

type SubscriptionRepository interface {
	FindByAccount(ctx context.Context, service ServiceType, accountID string) ([]Subscription, error)
	// ListAccounts returns every account with at least one subscription.
	ListAccounts(ctx context.Context, service ServiceType) ([]string, error)
	// Remove deletes the subscription and its role mentions. reason is kept in the audit log.
	Remove(ctx context.Context, id uuid.UUID, reason string) error
}
