package mutate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "mailsync/contracts/mq"
	"mailsync/internal/model"
	"mailsync/pkg/metrics"
)

// ConversationStore is the slice of the conversation store mutations need.
type ConversationStore interface {
	GetByID(ctx context.Context, userID, id string) (*model.Conversation, error)
	SetNumUnread(ctx context.Context, userID, id string, numUnread int) error
	AddNumUnread(ctx context.Context, userID, id string, delta int) error
	ApplyLabelContext(ctx context.Context, userID, id string, lc model.LabelContext) error
	RemoveLabelContext(ctx context.Context, userID, id, labelID string) error
}

// MessageStore is the slice of the message store mutations need.
type MessageStore interface {
	ListByConversation(ctx context.Context, userID, conversationID string) ([]model.Message, error)
	MarkConversationRead(ctx context.Context, userID, conversationID string) error
	SetRead(ctx context.Context, userID, messageID string, read bool) error
	SetConversationStarred(ctx context.Context, userID, conversationID string, starred bool) error
	UpdateLabels(ctx context.Context, userID, messageID string, labelIDs []string) error
}

// LabelStore answers exclusivity queries for custom label ids.
type LabelStore interface {
	IsExclusive(ctx context.Context, userID, id string) (bool, error)
}

// Enqueuer records a mailbox operation for durable, at-least-once
// remote execution. The retry policy lives behind this interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, routingKey string, op *mqcontracts.LabelOpPayload) error
}

// Coordinator applies read/star/move mutations optimistically to the
// local stores and schedules their remote propagation. The local phase
// is authoritative for rendering; remote failures never surface here.
// Callers are expected to serialize mutations per user.
type Coordinator struct {
	convs    ConversationStore
	msgs     MessageStore
	labels   LabelStore
	enqueuer Enqueuer
	logger   *zap.Logger
}

func NewCoordinator(convs ConversationStore, msgs MessageStore, labels LabelStore, enqueuer Enqueuer, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		convs:    convs,
		msgs:     msgs,
		labels:   labels,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// MarkRead zeroes each conversation's unread count and flags every
// contained message as read, then enqueues the remote op.
func (c *Coordinator) MarkRead(ctx context.Context, userID string, conversationIDs []string) error {
	for _, id := range conversationIDs {
		if err := c.convs.SetNumUnread(ctx, userID, id, 0); err != nil {
			return fmt.Errorf("failed to zero unread count for %s: %w", id, err)
		}
		if err := c.msgs.MarkConversationRead(ctx, userID, id); err != nil {
			return fmt.Errorf("failed to mark messages read for %s: %w", id, err)
		}
	}
	metrics.IncrementMutation("mark_read")

	return c.enqueue(ctx, mqcontracts.RoutingMarkRead, &mqcontracts.LabelOpPayload{
		Op:              "mark_read",
		UserID:          userID,
		ConversationIDs: conversationIDs,
	})
}

// MarkUnread bumps each conversation's unread count and flips exactly
// one message back to unread: the most recent one in the currently
// viewed location. Messages iterate most-recent-first, so the first
// match is the right one.
func (c *Coordinator) MarkUnread(ctx context.Context, userID string, conversationIDs []string, locationID string) error {
	for _, id := range conversationIDs {
		if err := c.convs.AddNumUnread(ctx, userID, id, 1); err != nil {
			return fmt.Errorf("failed to bump unread count for %s: %w", id, err)
		}

		msgs, err := c.msgs.ListByConversation(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("failed to list messages for %s: %w", id, err)
		}
		for i := range msgs {
			if !msgs[i].HasLabel(locationID) {
				continue
			}
			if err := c.msgs.SetRead(ctx, userID, msgs[i].ID, false); err != nil {
				return fmt.Errorf("failed to mark message %s unread: %w", msgs[i].ID, err)
			}
			break
		}
	}
	metrics.IncrementMutation("mark_unread")

	return c.enqueue(ctx, mqcontracts.RoutingMarkUnread, &mqcontracts.LabelOpPayload{
		Op:              "mark_unread",
		UserID:          userID,
		ConversationIDs: conversationIDs,
		LabelID:         locationID,
	})
}

// Star sets the starred flag on every message and adds the starred
// label context to each conversation.
func (c *Coordinator) Star(ctx context.Context, userID string, conversationIDs []string) error {
	for _, id := range conversationIDs {
		if err := c.msgs.SetConversationStarred(ctx, userID, id, true); err != nil {
			return fmt.Errorf("failed to star messages for %s: %w", id, err)
		}

		msgs, err := c.msgs.ListByConversation(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("failed to list messages for %s: %w", id, err)
		}
		for i := range msgs {
			if msgs[i].HasLabel(model.LabelStarred) {
				continue
			}
			labels := append(append([]string(nil), msgs[i].LabelIDs...), model.LabelStarred)
			if err := c.msgs.UpdateLabels(ctx, userID, msgs[i].ID, labels); err != nil {
				return fmt.Errorf("failed to add starred label to %s: %w", msgs[i].ID, err)
			}
		}

		lc := contextFromMessages(model.LabelStarred, msgs)
		if err := c.convs.ApplyLabelContext(ctx, userID, id, lc); err != nil {
			return fmt.Errorf("failed to apply starred context to %s: %w", id, err)
		}
	}
	metrics.IncrementMutation("star")

	return c.enqueue(ctx, mqcontracts.RoutingLabelAdd, &mqcontracts.LabelOpPayload{
		Op:              "label_add",
		UserID:          userID,
		ConversationIDs: conversationIDs,
		LabelID:         model.LabelStarred,
	})
}

// Unstar clears the starred flag on every message and removes the
// starred label context from each conversation.
func (c *Coordinator) Unstar(ctx context.Context, userID string, conversationIDs []string) error {
	for _, id := range conversationIDs {
		if err := c.msgs.SetConversationStarred(ctx, userID, id, false); err != nil {
			return fmt.Errorf("failed to unstar messages for %s: %w", id, err)
		}

		msgs, err := c.msgs.ListByConversation(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("failed to list messages for %s: %w", id, err)
		}
		for i := range msgs {
			if !msgs[i].HasLabel(model.LabelStarred) {
				continue
			}
			labels := removeLabel(msgs[i].LabelIDs, model.LabelStarred)
			if err := c.msgs.UpdateLabels(ctx, userID, msgs[i].ID, labels); err != nil {
				return fmt.Errorf("failed to remove starred label from %s: %w", msgs[i].ID, err)
			}
		}

		if err := c.convs.RemoveLabelContext(ctx, userID, id, model.LabelStarred); err != nil {
			return fmt.Errorf("failed to remove starred context from %s: %w", id, err)
		}
	}
	metrics.IncrementMutation("unstar")

	return c.enqueue(ctx, mqcontracts.RoutingLabelRemove, &mqcontracts.LabelOpPayload{
		Op:              "label_remove",
		UserID:          userID,
		ConversationIDs: conversationIDs,
		LabelID:         model.LabelStarred,
	})
}

// Move relabels every message of each conversation for the destination
// folder and updates the conversations' label contexts to match, then
// enqueues the remote op. The server applies exclusive-replace
// semantics for folder labels.
func (c *Coordinator) Move(ctx context.Context, userID string, conversationIDs []string, folderID string) error {
	for _, id := range conversationIDs {
		msgs, err := c.msgs.ListByConversation(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("failed to list messages for %s: %w", id, err)
		}

		for i := range msgs {
			newLabels, err := c.relabelForMove(ctx, userID, msgs[i].LabelIDs, folderID)
			if err != nil {
				return err
			}
			if err := c.msgs.UpdateLabels(ctx, userID, msgs[i].ID, newLabels); err != nil {
				return fmt.Errorf("failed to relabel message %s: %w", msgs[i].ID, err)
			}
			msgs[i].LabelIDs = newLabels
		}

		if err := c.moveConversationContexts(ctx, userID, id, folderID, msgs); err != nil {
			return err
		}
	}
	metrics.IncrementMutation("move")

	return c.enqueue(ctx, mqcontracts.RoutingLabelAdd, &mqcontracts.LabelOpPayload{
		Op:              "label_add",
		UserID:          userID,
		ConversationIDs: conversationIDs,
		LabelID:         folderID,
	})
}

func (c *Coordinator) moveConversationContexts(ctx context.Context, userID, conversationID, folderID string, msgs []model.Message) error {
	conv, err := c.convs.GetByID(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	for _, lc := range conv.Labels {
		stale, err := c.isStaleForMove(ctx, userID, lc.ID, folderID)
		if err != nil {
			return err
		}
		if stale {
			if err := c.convs.RemoveLabelContext(ctx, userID, conversationID, lc.ID); err != nil {
				return fmt.Errorf("failed to drop context %s from %s: %w", lc.ID, conversationID, err)
			}
		}
	}

	// The destination context time is the latest message timestamp
	// across the conversation.
	lc := contextFromMessages(folderID, msgs)
	if err := c.convs.ApplyLabelContext(ctx, userID, conversationID, lc); err != nil {
		return fmt.Errorf("failed to apply context %s to %s: %w", folderID, conversationID, err)
	}
	return nil
}

func (c *Coordinator) enqueue(ctx context.Context, routingKey string, op *mqcontracts.LabelOpPayload) error {
	if err := c.enqueuer.Enqueue(ctx, routingKey, op); err != nil {
		// Local state is already mutated; the caller can retry the
		// enqueue without redoing the mutation.
		c.logger.Error("Failed to enqueue remote operation",
			zap.String("op", op.Op),
			zap.String("user_id", op.UserID),
			zap.Strings("conversation_ids", op.ConversationIDs),
			zap.Error(err),
		)
		return fmt.Errorf("failed to enqueue %s: %w", op.Op, err)
	}

	c.logger.Debug("Enqueued remote operation",
		zap.String("op", op.Op),
		zap.String("routing_key", routingKey),
		zap.Int("conversations", len(op.ConversationIDs)),
	)
	return nil
}

func contextFromMessages(labelID string, msgs []model.Message) model.LabelContext {
	lc := model.LabelContext{ID: labelID, NumMessages: len(msgs)}
	for i := range msgs {
		if msgs[i].Time > lc.Time {
			lc.Time = msgs[i].Time
		}
		if !msgs[i].Read {
			lc.NumUnread++
		}
		lc.Size += msgs[i].Size
	}
	return lc
}

func removeLabel(labelIDs []string, labelID string) []string {
	out := make([]string, 0, len(labelIDs))
	for _, id := range labelIDs {
		if id != labelID {
			out = append(out, id)
		}
	}
	return out
}
