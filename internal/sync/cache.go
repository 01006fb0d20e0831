package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mailsync/internal/model"
)

// RemoteGetter fetches a single conversation's full detail.
type RemoteGetter interface {
	GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, []model.Message, error)
}

// DetailStore is the slice of the conversation store the cache needs.
type DetailStore interface {
	Upsert(ctx context.Context, convs []model.Conversation) error
	GetByID(ctx context.Context, userID, id string) (*model.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
}

// MessageStore is the slice of the message store the cache needs.
type MessageStore interface {
	Upsert(ctx context.Context, msgs []model.Message) error
	ListByConversation(ctx context.Context, userID, conversationID string) ([]model.Message, error)
	DeleteByConversation(ctx context.Context, userID, conversationID string) error
}

// Detail is a conversation with its full message list.
type Detail struct {
	Conversation *model.Conversation
	Messages     []model.Message
}

// DetailCache is a read-through/write-through cache for single
// conversations. Concurrent requests for the same (conversationID,
// userID) share one in-flight remote fetch.
type DetailCache struct {
	remote RemoteGetter
	convs  DetailStore
	msgs   MessageStore
	group  singleflight.Group
	logger *zap.Logger
}

func NewDetailCache(remote RemoteGetter, convs DetailStore, msgs MessageStore, logger *zap.Logger) *DetailCache {
	return &DetailCache{
		remote: remote,
		convs:  convs,
		msgs:   msgs,
		logger: logger,
	}
}

// Get serves a conversation's detail from the local store, fetching
// and persisting it from the remote API on a miss.
func (c *DetailCache) Get(ctx context.Context, userID, conversationID string) (*Detail, error) {
	key := userID + "/" + conversationID

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.load(ctx, userID, conversationID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Detail fetch shared with concurrent caller",
			zap.String("conversation_id", conversationID),
		)
	}
	return v.(*Detail), nil
}

func (c *DetailCache) load(ctx context.Context, userID, conversationID string) (*Detail, error) {
	if conv, err := c.convs.GetByID(ctx, userID, conversationID); err == nil {
		msgs, err := c.msgs.ListByConversation(ctx, userID, conversationID)
		// No cached messages is a miss only when the conversation is
		// supposed to have some; a genuinely empty conversation stays
		// servable locally.
		if err == nil && (len(msgs) > 0 || conv.NumMessages == 0) {
			return &Detail{Conversation: conv, Messages: msgs}, nil
		}
	}

	conv, msgs, err := c.remote.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", conversationID, err)
	}

	if err := c.msgs.Upsert(ctx, msgs); err != nil {
		return nil, fmt.Errorf("failed to persist messages for %s: %w", conversationID, err)
	}
	if err := c.convs.Upsert(ctx, []model.Conversation{*conv}); err != nil {
		return nil, fmt.Errorf("failed to persist conversation %s: %w", conversationID, err)
	}

	// Serve from the local store so the value returned is the one a
	// later read would see.
	stored, err := c.convs.GetByID(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back conversation %s: %w", conversationID, err)
	}
	storedMsgs, err := c.msgs.ListByConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back messages for %s: %w", conversationID, err)
	}

	return &Detail{Conversation: stored, Messages: storedMsgs}, nil
}

// Invalidate removes the conversation and its messages from the local
// store. The next Get re-fetches from the remote API.
func (c *DetailCache) Invalidate(ctx context.Context, userID, conversationID string) error {
	if err := c.msgs.DeleteByConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return c.convs.Delete(ctx, userID, conversationID)
}
