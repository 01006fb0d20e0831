package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "mailsync/contracts/mq"
	"mailsync/pkg/logger"
	"mailsync/pkg/metrics"
	"mailsync/pkg/util"
)

const maxRetries = 5

// RemoteExecutor runs mailbox operations against the remote API.
type RemoteExecutor interface {
	MarkRead(ctx context.Context, userID string, conversationIDs []string) error
	MarkUnread(ctx context.Context, userID string, conversationIDs []string, labelID string) error
	LabelAdd(ctx context.Context, userID string, conversationIDs []string, labelID string) error
	LabelRemove(ctx context.Context, userID string, conversationIDs []string, labelID string) error
}

// Deduper guards against redelivered operations. A key acquired for an
// execution that fails must be released, or the redelivery is skipped
// and the operation never runs remotely.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, opKey string) bool
	Release(ctx context.Context, handler, opKey string)
}

// RetryCounter tracks how often an operation has been retried.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DLQPublisher parks poison messages.
type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// LabelOpHandler executes durable mailbox operations from the queue.
// Delivery is at-least-once; the deduper makes execution effectively
// once. Retryable failures are nacked back to the queue, everything
// else goes to the DLQ.
type LabelOpHandler struct {
	remote  RemoteExecutor
	deduper Deduper
	retries RetryCounter
	dlq     DLQPublisher
	logger  *zap.Logger
}

func NewLabelOpHandler(remote RemoteExecutor, deduper Deduper, retries RetryCounter, dlq DLQPublisher, log *zap.Logger) *LabelOpHandler {
	return &LabelOpHandler{
		remote:  remote,
		deduper: deduper,
		retries: retries,
		dlq:     dlq,
		logger:  log,
	}
}

// Handle processes one queued operation.
func (h *LabelOpHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	started := time.Now()

	var op mqcontracts.LabelOpPayload
	if err := json.Unmarshal(raw, &op); err != nil {
		h.logger.Error("Failed to unmarshal label op payload", zap.Error(err))
		// Malformed payload: retrying cannot help.
		if dlqErr := h.dlq.PublishToDLQ("conversation.malformed", raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish malformed payload to DLQ", zap.Error(dlqErr))
		}
		return nil
	}

	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("op", op.Op),
		zap.String("user_id", op.UserID),
		zap.Int("conversations", len(op.ConversationIDs)),
	)

	opKey := op.IdempotencyKey()
	if !h.deduper.AcquireOnce(ctx, "label_op", opKey) {
		return nil
	}

	err := h.execute(ctx, &op)
	if err == nil {
		_ = h.retries.Reset(ctx, util.FormatRetryKey("label_op", opKey))
		metrics.RecordMQConsumeLatency(h.routingKey(&op), "label_op", time.Since(started))
		log.Info("Executed remote operation")
		return nil
	}

	// The operation did not complete; a redelivery must get another
	// attempt instead of being swallowed as a duplicate.
	h.deduper.Release(ctx, "label_op", opKey)

	retryable, errType := util.IsRetryableError(err)
	count, cntErr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey("label_op", opKey))
	if cntErr != nil {
		log.Warn("Failed to track retry count", zap.Error(cntErr))
	}

	if util.ShouldRetry(count, maxRetries, retryable) {
		log.Warn("Remote operation failed, will retry",
			zap.String("error_type", errType),
			zap.Int64("attempt", count),
			zap.Error(err),
		)
		return err
	}

	log.Error("Remote operation failed permanently, sending to DLQ",
		zap.String("error_type", errType),
		zap.Int64("attempts", count),
		zap.Error(err),
	)
	if dlqErr := h.dlq.PublishToDLQ(h.routingKey(&op), raw, err.Error()); dlqErr != nil {
		log.Error("Failed to publish to DLQ", zap.Error(dlqErr))
		return err
	}
	return nil
}

func (h *LabelOpHandler) execute(ctx context.Context, op *mqcontracts.LabelOpPayload) error {
	switch op.Op {
	case "mark_read":
		return h.remote.MarkRead(ctx, op.UserID, op.ConversationIDs)
	case "mark_unread":
		return h.remote.MarkUnread(ctx, op.UserID, op.ConversationIDs, op.LabelID)
	case "label_add":
		return h.remote.LabelAdd(ctx, op.UserID, op.ConversationIDs, op.LabelID)
	case "label_remove":
		return h.remote.LabelRemove(ctx, op.UserID, op.ConversationIDs, op.LabelID)
	default:
		return fmt.Errorf("unknown op kind %q", op.Op)
	}
}

func (h *LabelOpHandler) routingKey(op *mqcontracts.LabelOpPayload) string {
	switch op.Op {
	case "mark_read":
		return mqcontracts.RoutingMarkRead
	case "mark_unread":
		return mqcontracts.RoutingMarkUnread
	case "label_add":
		return mqcontracts.RoutingLabelAdd
	case "label_remove":
		return mqcontracts.RoutingLabelRemove
	}
	return "conversation.unknown"
}
