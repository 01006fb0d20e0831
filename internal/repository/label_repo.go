package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsync/internal/model"
)

// LabelRepository stores label metadata, in particular the exclusivity
// flag the move operation consults for custom label ids.
type LabelRepository struct {
	db *pgxpool.Pool
}

func NewLabelRepository(db *pgxpool.Pool) *LabelRepository {
	return &LabelRepository{db: db}
}

func (r *LabelRepository) Upsert(ctx context.Context, labels []model.Label) error {
	query := `
        INSERT INTO labels (id, user_id, name, exclusive, ord)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id, user_id) DO UPDATE SET
            name = EXCLUDED.name,
            exclusive = EXCLUDED.exclusive,
            ord = EXCLUDED.ord
    `
	for i := range labels {
		l := &labels[i]
		if _, err := r.db.Exec(ctx, query, l.ID, l.UserID, l.Name, l.Exclusive, l.Order); err != nil {
			return fmt.Errorf("failed to upsert label %s: %w", l.ID, err)
		}
	}
	return nil
}

// IsExclusive reports whether a label id names an exclusive folder.
// System label ids never reach the store: their exclusivity is decided
// by the id format check in model. Unknown custom labels default to
// non-exclusive so a move never strips a label we know nothing about.
func (r *LabelRepository) IsExclusive(ctx context.Context, userID, id string) (bool, error) {
	var exclusive bool
	err := r.db.QueryRow(ctx,
		`SELECT exclusive FROM labels WHERE user_id = $1 AND id = $2`,
		userID, id,
	).Scan(&exclusive)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up label %s: %w", id, err)
	}
	return exclusive, nil
}

func (r *LabelRepository) ListByUser(ctx context.Context, userID string) ([]model.Label, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, name, exclusive, ord FROM labels WHERE user_id = $1 ORDER BY ord`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []model.Label
	for rows.Next() {
		var l model.Label
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Exclusive, &l.Order); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}
