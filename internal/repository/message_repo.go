package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailsync/internal/model"
)

// MessageRepository is the durable local store for individual messages.
type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert writes messages keyed by (id, user_id).
func (r *MessageRepository) Upsert(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO messages
            (id, user_id, conversation_id, subject, read, starred, label_ids, time, size)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id, user_id) DO UPDATE SET
            conversation_id = EXCLUDED.conversation_id,
            subject = EXCLUDED.subject,
            read = EXCLUDED.read,
            starred = EXCLUDED.starred,
            label_ids = EXCLUDED.label_ids,
            time = EXCLUDED.time,
            size = EXCLUDED.size
    `
	for i := range msgs {
		m := &msgs[i]
		if _, err := tx.Exec(ctx, query,
			m.ID, m.UserID, m.ConversationID, m.Subject,
			m.Read, m.Starred, m.LabelIDs, m.Time, m.Size,
		); err != nil {
			return fmt.Errorf("failed to upsert message %s: %w", m.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListByConversation returns a conversation's messages, most recent
// first. Iteration order therefore reflects recency, which the
// mark-unread policy relies on.
func (r *MessageRepository) ListByConversation(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	query := `
        SELECT id, user_id, conversation_id, subject, read, starred, label_ids, time, size
        FROM messages
        WHERE user_id = $1 AND conversation_id = $2
        ORDER BY time DESC
    `

	rows, err := r.db.Query(ctx, query, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.ConversationID, &m.Subject,
			&m.Read, &m.Starred, &m.LabelIDs, &m.Time, &m.Size,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkConversationRead flags every message in a conversation as read.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, userID, conversationID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE messages SET read = true WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID,
	)
	return err
}

// SetRead flags a single message.
func (r *MessageRepository) SetRead(ctx context.Context, userID, messageID string, read bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE messages SET read = $3 WHERE user_id = $1 AND id = $2`,
		userID, messageID, read,
	)
	return err
}

// SetConversationStarred sets the starred flag on every message in a
// conversation.
func (r *MessageRepository) SetConversationStarred(ctx context.Context, userID, conversationID string, starred bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE messages SET starred = $3 WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID, starred,
	)
	return err
}

// UpdateLabels replaces a message's label id set.
func (r *MessageRepository) UpdateLabels(ctx context.Context, userID, messageID string, labelIDs []string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE messages SET label_ids = $3 WHERE user_id = $1 AND id = $2`,
		userID, messageID, labelIDs,
	)
	return err
}

// DeleteByConversation removes all messages of a conversation.
func (r *MessageRepository) DeleteByConversation(ctx context.Context, userID, conversationID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM messages WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID,
	)
	return err
}

// Clear removes every message for a user.
func (r *MessageRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE user_id = $1`, userID)
	return err
}
