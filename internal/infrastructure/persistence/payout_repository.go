package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
)

type PayoutRepository struct {
	db *sqlx.DB
}

var _ repository.PayoutRepository = (*PayoutRepository)(nil)

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.PayoutJob, error) {
	var rows []payoutRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+payoutColumns+` FROM payout_jobs
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at
		LIMIT $3`,
		string(entity.PayoutStatusPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due payouts: %w", err)
	}
	return toPayouts(rows), nil
}

func (r *PayoutRepository) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*entity.PayoutJob, error) {
	var rows []payoutRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+payoutColumns+` FROM payout_jobs WHERE escrow_id = $1 ORDER BY created_at`, escrowID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return toPayouts(rows), nil
}

func toPayouts(rows []payoutRow) []*entity.PayoutJob {
	out := make([]*entity.PayoutJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out
}
