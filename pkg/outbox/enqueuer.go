package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "mailsync/contracts/mq"
	"mailsync/pkg/trace"
)

// Enqueuer records mailbox operations in the outbox for the dispatcher
// to publish. Once the insert commits, at-least-once remote execution
// is guaranteed independent of process lifetime.
type Enqueuer struct {
	db   *pgxpool.Pool
	repo *Repository
}

func NewEnqueuer(db *pgxpool.Pool, repo *Repository) *Enqueuer {
	return &Enqueuer{db: db, repo: repo}
}

func (e *Enqueuer) Enqueue(ctx context.Context, routingKey string, op *mqcontracts.LabelOpPayload) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal op payload: %w", err)
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	aggregateID := op.IdempotencyKey()
	event := &Event{
		AggregateType: "conversation",
		AggregateID:   &aggregateID,
		RoutingKey:    routingKey,
		Payload:       payload,
		TraceID:       trace.FromContext(ctx),
		Status:        "pending",
	}
	if err := e.repo.InsertEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
