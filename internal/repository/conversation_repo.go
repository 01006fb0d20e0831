package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsync/internal/model"
	"mailsync/pkg/metrics"
)

// ConversationRepository is the durable local store for conversation
// summaries and their per-label contexts.
type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Upsert writes conversations keyed by (id, user_id). Re-merging the
// same remote page is a no-op apart from refreshed fields; label
// context rows are replaced wholesale so entries stay unique per label.
func (r *ConversationRepository) Upsert(ctx context.Context, convs []model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	defer func(started time.Time) {
		metrics.RecordDBQueryDuration("upsert", "conversations", time.Since(started))
	}(time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range convs {
		if err := r.upsertOne(ctx, tx, &convs[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *ConversationRepository) upsertOne(ctx context.Context, tx pgx.Tx, c *model.Conversation) error {
	senders, err := json.Marshal(c.Senders)
	if err != nil {
		return fmt.Errorf("failed to marshal senders: %w", err)
	}
	recipients, err := json.Marshal(c.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	query := `
        INSERT INTO conversations
            (id, user_id, subject, num_unread, num_messages, size, num_attachments, ord, time, senders, recipients)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id, user_id) DO UPDATE SET
            subject = EXCLUDED.subject,
            num_unread = EXCLUDED.num_unread,
            num_messages = EXCLUDED.num_messages,
            size = EXCLUDED.size,
            num_attachments = EXCLUDED.num_attachments,
            ord = EXCLUDED.ord,
            time = EXCLUDED.time,
            senders = EXCLUDED.senders,
            recipients = EXCLUDED.recipients,
            seq = nextval('conversations_seq')
    `
	_, err = tx.Exec(ctx, query,
		c.ID, c.UserID, c.Subject, c.NumUnread, c.NumMessages,
		c.Size, c.NumAttachments, c.Order, c.Time, senders, recipients,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", c.ID, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_labels WHERE conversation_id = $1 AND user_id = $2`,
		c.ID, c.UserID,
	); err != nil {
		return fmt.Errorf("failed to clear label contexts for %s: %w", c.ID, err)
	}

	for _, lc := range c.Labels {
		if _, err := tx.Exec(ctx, `
            INSERT INTO conversation_labels
                (conversation_id, user_id, label_id, num_unread, num_messages, time, size, num_attachments)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        `, c.ID, c.UserID, lc.ID, lc.NumUnread, lc.NumMessages, lc.Time, lc.Size, lc.NumAttachments); err != nil {
			return fmt.Errorf("failed to insert label context %s/%s: %w", c.ID, lc.ID, err)
		}
	}

	return nil
}

// ListByLabel returns the user's conversations carrying labelID,
// ordered by descending per-label context time with nulls last, ties
// broken by descending arrival order.
func (r *ConversationRepository) ListByLabel(ctx context.Context, userID, labelID string) ([]model.Conversation, error) {
	defer func(started time.Time) {
		metrics.RecordDBQueryDuration("list_by_label", "conversations", time.Since(started))
	}(time.Now())

	query := `
        SELECT c.id, c.user_id, c.subject, c.num_unread, c.num_messages,
               c.size, c.num_attachments, c.ord, c.time, c.senders, c.recipients
        FROM conversations c
        JOIN conversation_labels cl
          ON cl.conversation_id = c.id AND cl.user_id = c.user_id AND cl.label_id = $2
        WHERE c.user_id = $1
        ORDER BY cl.time DESC NULLS LAST, c.seq DESC
    `

	rows, err := r.db.Query(ctx, query, userID, labelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		labels, err := r.loadLabelContexts(ctx, convs[i].UserID, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Labels = labels
	}

	return convs, nil
}

// GetByID returns a single conversation, or pgx.ErrNoRows.
func (r *ConversationRepository) GetByID(ctx context.Context, userID, id string) (*model.Conversation, error) {
	query := `
        SELECT id, user_id, subject, num_unread, num_messages,
               size, num_attachments, ord, time, senders, recipients
        FROM conversations
        WHERE user_id = $1 AND id = $2
    `

	row := r.db.QueryRow(ctx, query, userID, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	c.Labels, err = r.loadLabelContexts(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetNumUnread sets the conversation's unread count.
func (r *ConversationRepository) SetNumUnread(ctx context.Context, userID, id string, numUnread int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE conversations SET num_unread = $3 WHERE user_id = $1 AND id = $2`,
		userID, id, numUnread,
	)
	return err
}

// AddNumUnread adjusts the conversation's unread count by delta,
// clamped at zero.
func (r *ConversationRepository) AddNumUnread(ctx context.Context, userID, id string, delta int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE conversations SET num_unread = GREATEST(num_unread + $3, 0) WHERE user_id = $1 AND id = $2`,
		userID, id, delta,
	)
	return err
}

// ApplyLabelContext adds or replaces a single label context row.
func (r *ConversationRepository) ApplyLabelContext(ctx context.Context, userID, id string, lc model.LabelContext) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO conversation_labels
            (conversation_id, user_id, label_id, num_unread, num_messages, time, size, num_attachments)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (conversation_id, user_id, label_id) DO UPDATE SET
            num_unread = EXCLUDED.num_unread,
            num_messages = EXCLUDED.num_messages,
            time = EXCLUDED.time,
            size = EXCLUDED.size,
            num_attachments = EXCLUDED.num_attachments
    `, id, userID, lc.ID, lc.NumUnread, lc.NumMessages, lc.Time, lc.Size, lc.NumAttachments)
	return err
}

// RemoveLabelContext drops the label context row for labelID.
func (r *ConversationRepository) RemoveLabelContext(ctx context.Context, userID, id, labelID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM conversation_labels WHERE conversation_id = $2 AND user_id = $1 AND label_id = $3`,
		userID, id, labelID,
	)
	return err
}

// Delete removes a conversation and its label contexts.
func (r *ConversationRepository) Delete(ctx context.Context, userID, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_labels WHERE conversation_id = $2 AND user_id = $1`,
		userID, id,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM conversations WHERE user_id = $1 AND id = $2`,
		userID, id,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Clear removes every conversation for a user (logout / switch-user).
func (r *ConversationRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM conversation_labels WHERE user_id = $1`, userID,
	); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM conversations WHERE user_id = $1`, userID,
	)
	return err
}

func (r *ConversationRepository) loadLabelContexts(ctx context.Context, userID, id string) ([]model.LabelContext, error) {
	rows, err := r.db.Query(ctx, `
        SELECT label_id, num_unread, num_messages, time, size, num_attachments
        FROM conversation_labels
        WHERE conversation_id = $2 AND user_id = $1
    `, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load label contexts: %w", err)
	}
	defer rows.Close()

	var labels []model.LabelContext
	for rows.Next() {
		var lc model.LabelContext
		if err := rows.Scan(&lc.ID, &lc.NumUnread, &lc.NumMessages, &lc.Time, &lc.Size, &lc.NumAttachments); err != nil {
			return nil, err
		}
		labels = append(labels, lc)
	}
	return labels, rows.Err()
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	var senders, recipients []byte
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Subject,
		&c.NumUnread,
		&c.NumMessages,
		&c.Size,
		&c.NumAttachments,
		&c.Order,
		&c.Time,
		&senders,
		&recipients,
	)
	if err != nil {
		return nil, err
	}
	if len(senders) > 0 {
		if err := json.Unmarshal(senders, &c.Senders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal senders: %w", err)
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &c.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
	}
	return &c, nil
}
