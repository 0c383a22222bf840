package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/livealert/internal/domain"
)

const subscriptionsByAccountQuery = `-- name: SubscriptionsByAccount
SELECT s.id, s.service_type, s.account_id, s.guild_id, s.channel_id, s.message_template,
	s.edit_in_place, s.created_at,
	COALESCE(array_agg(r.role_id ORDER BY r.role_id) FILTER (WHERE r.role_id IS NOT NULL), '{}')
FROM subscriptions s
LEFT JOIN subscription_roles r ON r.subscription_id = s.id
WHERE s.service_type = $1 AND s.account_id = $2
GROUP BY s.id
ORDER BY s.created_at, s.id`

const listAccountsQuery = `-- name: ListSubscribedAccounts
SELECT DISTINCT account_id FROM subscriptions WHERE service_type = $1 ORDER BY account_id`

const deleteSubscriptionQuery = `-- name: DeleteSubscription
DELETE FROM subscriptions WHERE id = $1
RETURNING service_type, account_id, guild_id, channel_id`

const insertAuditQuery = `-- name: InsertSubscriptionAudit
INSERT INTO subscription_audit (subscription_id, service_type, account_id, guild_id, channel_id, reason)
VALUES ($1, $2, $3, $4, $5, $6)`

// SubscriptionRepo reads subscriptions and removes unusable ones. Creating and editing
// subscriptions belongs to the command surface.
type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

func (r *SubscriptionRepo) FindByAccount(ctx context.Context, service domain.ServiceType, accountID string) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, subscriptionsByAccountQuery, string(service), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscription, error) {
		var (
			sub     domain.Subscription
			svc     string
			roleIDs []string
		)
		err := row.Scan(&sub.ID, &svc, &sub.AccountID, &sub.GuildID, &sub.ChannelID,
			&sub.MessageTemplate, &sub.EditInPlace, &sub.CreatedAt, &roleIDs)
		sub.ServiceType = domain.ServiceType(svc)
		if len(roleIDs) > 0 {
			sub.RoleIDs = roleIDs
		}
		return sub, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepo) ListAccounts(ctx context.Context, service domain.ServiceType) ([]string, error) {
	rows, err := r.pool.Query(ctx, listAccountsQuery, string(service))
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

// Remove deletes the subscription with its role mentions and writes an audit row,
// atomically.
func (r *SubscriptionRepo) Remove(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var service, accountID, guildID, channelID string
	err = tx.QueryRow(ctx, deleteSubscriptionQuery, id).Scan(&service, &accountID, &guildID, &channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	if _, err := tx.Exec(ctx, insertAuditQuery, id, service, accountID, guildID, channelID, reason); err != nil {
		return fmt.Errorf("failed to write subscription audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
