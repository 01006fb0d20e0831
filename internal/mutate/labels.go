package mutate

import (
	"context"
	"fmt"

	"mailsync/internal/model"
)

// isStaleForMove decides whether a label must be stripped from a
// message (or conversation context) moving to folderID. Grouped system
// labels survive any move. Other system ids are exclusive locations and
// go away. Custom ids are a capability query against the label store:
// exclusive custom folders are stripped, plain labels stay.
func (c *Coordinator) isStaleForMove(ctx context.Context, userID, labelID, folderID string) (bool, error) {
	if labelID == folderID {
		return false, nil
	}
	if model.IsGroupedLabel(labelID) {
		return false, nil
	}
	if model.IsSystemLabel(labelID) {
		return true, nil
	}

	exclusive, err := c.labels.IsExclusive(ctx, userID, labelID)
	if err != nil {
		return false, fmt.Errorf("failed to check exclusivity of %s: %w", labelID, err)
	}
	return exclusive, nil
}

// relabelForMove computes a message's label set after a move to
// folderID: stale labels stripped, destination added, and the implied
// SENT/DRAFT labels added when moving to Inbox a message that lives in
// ALL_SENT/ALL_DRAFT.
func (c *Coordinator) relabelForMove(ctx context.Context, userID string, labelIDs []string, folderID string) ([]string, error) {
	out := make([]string, 0, len(labelIDs)+3)
	for _, id := range labelIDs {
		stale, err := c.isStaleForMove(ctx, userID, id, folderID)
		if err != nil {
			return nil, err
		}
		if !stale {
			out = append(out, id)
		}
	}

	out = appendMissing(out, folderID)

	if folderID == model.LabelInbox {
		if contains(labelIDs, model.LabelAllSent) {
			out = appendMissing(out, model.LabelSent)
		}
		if contains(labelIDs, model.LabelAllDraft) {
			out = appendMissing(out, model.LabelDraft)
		}
	}

	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func appendMissing(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
