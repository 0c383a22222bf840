package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/livealert/internal/domain"
)

// successOutcomes mirrors domain.Outcome.Success.
var successOutcomes = []string{
	domain.OutcomeSent.String(),
	domain.OutcomeSuppressed.String(),
	domain.OutcomeEdited.String(),
	domain.OutcomeOffline.String(),
}

const notificationColumns = `id, service_type, account_id, stream_id, stream_start_time, guild_id, channel_id,
	COALESCE(message_id, ''), outcome, outcome_reason, rendered_message, title, stream_url,
	thumbnail_url, avatar_url, game_id, game_name, game_thumbnail_url, role_names,
	created_at, updated_at`

const historyQuery = `-- name: NotificationHistory
SELECT ` + notificationColumns + `
FROM notifications
WHERE service_type = $1 AND account_id = $2 AND guild_id = $3 AND channel_id = $4
  AND outcome = ANY($5)
ORDER BY stream_start_time DESC, created_at DESC`

const latestWithMessageQuery = `-- name: LatestNotificationWithMessage
SELECT ` + notificationColumns + `
FROM notifications
WHERE service_type = $1 AND account_id = $2 AND guild_id = $3 AND channel_id = $4
  AND outcome = ANY($5) AND message_id IS NOT NULL
ORDER BY stream_start_time DESC, created_at DESC
LIMIT 1`

const withMessageSinceQuery = `-- name: NotificationsWithMessageSince
SELECT ` + notificationColumns + `
FROM notifications
WHERE service_type = $1 AND account_id = $2 AND guild_id = $3 AND channel_id = $4
  AND outcome = ANY($5) AND message_id IS NOT NULL AND stream_start_time >= $6
ORDER BY stream_start_time DESC, created_at DESC`

const byKeyQuery = `-- name: NotificationByKey
SELECT ` + notificationColumns + `
FROM notifications
WHERE account_id = $1 AND stream_id = $2 AND stream_start_time = $3
  AND guild_id = $4 AND channel_id = $5 AND game_id = $6
ORDER BY created_at DESC
LIMIT 1`

const insertNotificationQuery = `-- name: InsertNotification
INSERT INTO notifications (id, service_type, account_id, stream_id, stream_start_time, guild_id,
	channel_id, message_id, outcome, outcome_reason, rendered_message, title, stream_url,
	thumbnail_url, avatar_url, game_id, game_name, game_thumbnail_url, role_names, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING ` + notificationColumns

const updateNotificationQuery = `-- name: UpdateNotification
UPDATE notifications SET
	stream_id = $2, stream_start_time = $3, message_id = NULLIF($4, ''), outcome = $5,
	outcome_reason = $6, rendered_message = $7, title = $8, stream_url = $9, thumbnail_url = $10,
	avatar_url = $11, game_id = $12, game_name = $13, game_thumbnail_url = $14, role_names = $15,
	updated_at = $16
WHERE id = $1`

// NotificationRepo stores notification records. Records are never deleted.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) History(ctx context.Context, dest domain.Destination) ([]domain.NotificationRecord, error) {
	rows, err := r.pool.Query(ctx, historyQuery,
		string(dest.ServiceType), dest.AccountID, dest.GuildID, dest.ChannelID, successOutcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification history: %w", err)
	}
	records, err := pgx.CollectRows(rows, collectNotification)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification history: %w", err)
	}
	return records, nil
}

func (r *NotificationRepo) LatestWithMessage(ctx context.Context, dest domain.Destination) (*domain.NotificationRecord, error) {
	row := r.pool.QueryRow(ctx, latestWithMessageQuery,
		string(dest.ServiceType), dest.AccountID, dest.GuildID, dest.ChannelID, successOutcomes)
	rec, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest notification: %w", err)
	}
	return &rec, nil
}

func (r *NotificationRepo) ListWithMessageSince(ctx context.Context, dest domain.Destination, since time.Time) ([]domain.NotificationRecord, error) {
	rows, err := r.pool.Query(ctx, withMessageSinceQuery,
		string(dest.ServiceType), dest.AccountID, dest.GuildID, dest.ChannelID, successOutcomes, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent notifications: %w", err)
	}
	records, err := pgx.CollectRows(rows, collectNotification)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent notifications: %w", err)
	}
	return records, nil
}

// AddOrGet runs the lookup and the insert in one transaction. Callers hold the
// destination lock, so no other writer races on the same key.
func (r *NotificationRepo) AddOrGet(ctx context.Context, candidate domain.NotificationRecord) (*domain.NotificationRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	key := candidate.Key()
	existing, err := scanNotification(tx.QueryRow(ctx, byKeyQuery,
		key.AccountID, key.StreamID, key.StreamStartTime, key.GuildID, key.ChannelID, key.GameID))
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up notification: %w", err)
	}

	c := candidate
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	stored, err := scanNotification(tx.QueryRow(ctx, insertNotificationQuery,
		c.ID, string(c.ServiceType), c.AccountID, c.StreamID, c.StreamStartTime.UTC(), c.GuildID,
		c.ChannelID, c.MessageID, c.Outcome.Kind.String(), c.Outcome.Reason, c.RenderedMessage,
		c.Title, c.StreamURL, c.ThumbnailURL, c.AvatarURL, c.Game.ID, c.Game.Name,
		c.Game.ThumbnailURL, roleNames(c.RoleNames), c.CreatedAt, c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &stored, nil
}

func (r *NotificationRepo) Update(ctx context.Context, rec domain.NotificationRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx, updateNotificationQuery,
		rec.ID, rec.StreamID, rec.StreamStartTime.UTC(), rec.MessageID, rec.Outcome.Kind.String(),
		rec.Outcome.Reason, rec.RenderedMessage, rec.Title, rec.StreamURL, rec.ThumbnailURL,
		rec.AvatarURL, rec.Game.ID, rec.Game.Name, rec.Game.ThumbnailURL, roleNames(rec.RoleNames),
		updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func collectNotification(row pgx.CollectableRow) (domain.NotificationRecord, error) {
	return scanNotification(row)
}

func scanNotification(row pgx.Row) (domain.NotificationRecord, error) {
	var (
		rec                  domain.NotificationRecord
		service, outcomeKind string
	)
	err := row.Scan(
		&rec.ID, &service, &rec.AccountID, &rec.StreamID, &rec.StreamStartTime, &rec.GuildID,
		&rec.ChannelID, &rec.MessageID, &outcomeKind, &rec.Outcome.Reason, &rec.RenderedMessage,
		&rec.Title, &rec.StreamURL, &rec.ThumbnailURL, &rec.AvatarURL, &rec.Game.ID, &rec.Game.Name,
		&rec.Game.ThumbnailURL, &rec.RoleNames, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.NotificationRecord{}, err
	}
	rec.ServiceType = domain.ServiceType(service)
	rec.Outcome.Kind = domain.ParseOutcomeKind(outcomeKind)
	rec.StreamStartTime = rec.StreamStartTime.UTC()
	if len(rec.RoleNames) == 0 {
		rec.RoleNames = nil
	}
	return rec, nil
}

// roleNames keeps the NOT NULL column satisfied for records without mentions.
func roleNames(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
