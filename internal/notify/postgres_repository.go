package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// SaveEvent inserts a notification event.
func (r *PostgresRepository) SaveEvent(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}

	query := `
		INSERT INTO notification_events (id, website_id, event_type, severity, title, summary, payload, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.WebsiteID, event.EventType, string(event.Severity),
		event.Title, nullString(event.Summary), payload, nullString(event.DedupKey), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification event: %w", err)
	}
	return nil
}

// CreateDelivery inserts a delivery record.
func (r *PostgresRepository) CreateDelivery(ctx context.Context, delivery *Delivery) error {
	query := `
		INSERT INTO notification_deliveries
			(id, event_id, channel, recipient, subject, provider_message_id, status, error_detail, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		delivery.ID, delivery.EventID, delivery.Channel, delivery.Recipient, delivery.Subject,
		nullString(delivery.ProviderMessageID), string(delivery.Status),
		nullString(delivery.ErrorDetail), delivery.AttemptCount, delivery.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification delivery: %w", err)
	}
	return nil
}

// ActiveSuppression returns the unexpired suppression or nil.
func (r *PostgresRepository) ActiveSuppression(ctx context.Context, websiteID, dedupKey string, now time.Time) (*Suppression, error) {
	query := `
		SELECT website_id, dedup_key, suppressed_until, COALESCE(reason, '')
		FROM notification_suppressions
		WHERE website_id = $1 AND dedup_key = $2 AND suppressed_until > $3`

	var suppression Suppression
	err := r.pool.QueryRow(ctx, query, websiteID, dedupKey, now).Scan(
		&suppression.WebsiteID, &suppression.DedupKey, &suppression.SuppressedUntil, &suppression.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying suppression: %w", err)
	}
	return &suppression, nil
}

// CreateSuppression upserts the suppression for its (website, key) pair.
func (r *PostgresRepository) CreateSuppression(ctx context.Context, suppression *Suppression) error {
	query := `
		INSERT INTO notification_suppressions (website_id, dedup_key, suppressed_until, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (website_id, dedup_key)
		DO UPDATE SET suppressed_until = EXCLUDED.suppressed_until, reason = EXCLUDED.reason`

	_, err := r.pool.Exec(ctx, query,
		suppression.WebsiteID, suppression.DedupKey, suppression.SuppressedUntil, nullString(suppression.Reason))
	if err != nil {
		return fmt.Errorf("upserting suppression: %w", err)
	}
	return nil
}

// ListRules returns rules matching the website and event type.
func (r *PostgresRepository) ListRules(ctx context.Context, websiteID, eventType string) ([]Rule, error) {
	query := `
		SELECT website_id, event_type, enabled, min_severity, throttle_window_seconds
		FROM notification_rules
		WHERE website_id = $1 AND event_type = $2
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, websiteID, eventType)
	if err != nil {
		return nil, fmt.Errorf("querying notification rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule    Rule
			seconds int64
		)
		if err := rows.Scan(&rule.WebsiteID, &rule.EventType, &rule.Enabled, &rule.MinSeverity, &seconds); err != nil {
			return nil, fmt.Errorf("scanning notification rule: %w", err)
		}
		rule.ThrottleWindow = time.Duration(seconds) * time.Second
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRecipients returns the enabled recipients for a website.
func (r *PostgresRepository) ListRecipients(ctx context.Context, websiteID string) ([]Recipient, error) {
	query := `
		SELECT website_id, address, enabled
		FROM notification_recipients
		WHERE website_id = $1 AND enabled = TRUE
		ORDER BY address ASC`

	rows, err := r.pool.Query(ctx, query, websiteID)
	if err != nil {
		return nil, fmt.Errorf("querying notification recipients: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var recipient Recipient
		if err := rows.Scan(&recipient.WebsiteID, &recipient.Address, &recipient.Enabled); err != nil {
			return nil, fmt.Errorf("scanning notification recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, rows.Err()
}

// SiteSettings returns the per-site settings or nil.
func (r *PostgresRepository) SiteSettings(ctx context.Context, websiteID string) (*SiteSettings, error) {
	query := `
		SELECT website_id, timezone, COALESCE(quiet_hours_start, ''), COALESCE(quiet_hours_end, '')
		FROM site_notification_settings
		WHERE website_id = $1`

	var settings SiteSettings
	err := r.pool.QueryRow(ctx, query, websiteID).Scan(
		&settings.WebsiteID, &settings.Timezone, &settings.QuietHoursStart, &settings.QuietHoursEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying site notification settings: %w", err)
	}
	return &settings, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
