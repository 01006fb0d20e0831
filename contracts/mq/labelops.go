package mq

import (
	"sort"
	"strings"
)

// Routing keys for the four durable mailbox operations.
const (
	RoutingMarkRead    = "conversation.mark_read"
	RoutingMarkUnread  = "conversation.mark_unread"
	RoutingLabelAdd    = "conversation.label_add"
	RoutingLabelRemove = "conversation.label_remove"
)

// LabelOpPayload is the wire shape for a background mailbox operation.
// The op is executed at-least-once against the remote API; consumers
// dedup on IdempotencyKey().
type LabelOpPayload struct {
	Op              string   `json:"op"`
	UserID          string   `json:"user_id"`
	ConversationIDs []string `json:"conversation_ids"`
	LabelID         string   `json:"label_id,omitempty"`
}

// IdempotencyKey identifies the operation for dedup: op kind plus the
// sorted conversation id set (and label id when present).
func (p *LabelOpPayload) IdempotencyKey() string {
	ids := append([]string(nil), p.ConversationIDs...)
	sort.Strings(ids)
	parts := []string{p.Op, p.UserID}
	if p.LabelID != "" {
		parts = append(parts, p.LabelID)
	}
	parts = append(parts, ids...)
	return strings.Join(parts, ":")
}
