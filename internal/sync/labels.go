package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailsync/internal/model"
)

// RemoteLabelLister fetches the user's label directory.
type RemoteLabelLister interface {
	ListLabels(ctx context.Context, userID string) ([]model.Label, error)
}

// LabelStore persists label metadata for exclusivity lookups.
type LabelStore interface {
	Upsert(ctx context.Context, labels []model.Label) error
}

// LabelSync mirrors the remote label directory into the local label
// store. Without it the move operation cannot tell custom folders from
// plain labels and defaults every custom id to non-exclusive.
type LabelSync struct {
	remote RemoteLabelLister
	store  LabelStore
	logger *zap.Logger
}

func NewLabelSync(remote RemoteLabelLister, store LabelStore, logger *zap.Logger) *LabelSync {
	return &LabelSync{
		remote: remote,
		store:  store,
		logger: logger,
	}
}

// Refresh pulls the current label directory and upserts it locally.
func (s *LabelSync) Refresh(ctx context.Context, userID string) error {
	labels, err := s.remote.ListLabels(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch label directory: %w", err)
	}

	if err := s.store.Upsert(ctx, labels); err != nil {
		return fmt.Errorf("failed to persist label directory: %w", err)
	}

	s.logger.Debug("Label directory refreshed",
		zap.String("user_id", userID),
		zap.Int("labels", len(labels)),
	)
	return nil
}
