package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

type EscrowRepository struct {
	db *sqlx.DB
}

var _ repository.EscrowRepository = (*EscrowRepository)(nil)

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Create вставляет escrow и все его этапы одной транзакцией.
func (r *EscrowRepository) Create(ctx context.Context, e *entity.Escrow) error {
	return withTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO escrow_accounts (id, client_id, professional_id, specialist_id, title, description,
				project_type, total_cents, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.ClientID, e.ProfessionalID, toNullUUID(e.SpecialistID), e.Title, e.Description,
			string(e.ProjectType), e.TotalAmount, string(e.Status), e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return duplicateOr(err, "insert escrow")
		}

		for _, m := range e.Milestones {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO escrow_milestones (id, escrow_id, position, title, amount_cents, status, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.ID, m.EscrowID, m.Position, m.Title, m.Amount, string(m.Status), m.UpdatedAt,
			)
			if err != nil {
				return duplicateOr(err, "insert milestone")
			}
		}
		return nil
	})
}

func (r *EscrowRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Escrow, error) {
	return loadEscrow(ctx, r.db, id, "")
}

func (r *EscrowRepository) FindEscrowIDByMilestone(ctx context.Context, milestoneID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, `SELECT escrow_id FROM escrow_milestones WHERE id = $1`, milestoneID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, apperror.ErrMilestoneNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find escrow by milestone: %w", err)
	}
	return id, nil
}

func (r *EscrowRepository) FindEscrowIDByIntent(ctx context.Context, intentID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id, `SELECT escrow_id FROM escrow_milestones WHERE intent_id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, apperror.ErrMilestoneNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find escrow by intent: %w", err)
	}
	return id, nil
}

func (r *EscrowRepository) ListTransactions(ctx context.Context, escrowID uuid.UUID) ([]*entity.Transaction, error) {
	var rows []transactionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE escrow_id = $1 ORDER BY created_at, id`, escrowID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]*entity.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (r *EscrowRepository) ListDueMilestones(ctx context.Context, now time.Time, limit int) ([]*entity.Milestone, error) {
	var rows []milestoneRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+milestoneColumns+` FROM escrow_milestones
		WHERE status = $1 AND hold_until <= $2
		ORDER BY hold_until
		LIMIT $3`,
		string(valueobject.MilestoneStatusHeld), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due milestones: %w", err)
	}
	return toMilestones(rows)
}

// WithEscrowLock: FOR UPDATE на escrow, затем на его этапы, всё в одной транзакции.
func (r *EscrowRepository) WithEscrowLock(ctx context.Context, escrowID uuid.UUID, fn func(tx repository.EscrowTx) error) error {
	return withTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		escrow, err := loadEscrow(ctx, tx, escrowID, " FOR UPDATE")
		if err != nil {
			return err
		}
		return fn(&escrowTx{tx: tx, escrow: escrow})
	})
}

func loadEscrow(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, lock string) (*entity.Escrow, error) {
	var row escrowRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = $1`+lock, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	var rows []milestoneRow
	err = sqlx.SelectContext(ctx, q, &rows,
		`SELECT `+milestoneColumns+` FROM escrow_milestones WHERE escrow_id = $1 ORDER BY position`+lock, id)
	if err != nil {
		return nil, fmt.Errorf("load milestones: %w", err)
	}
	milestones, err := toMilestones(rows)
	if err != nil {
		return nil, err
	}
	return row.toEntity(milestones), nil
}

func toMilestones(rows []milestoneRow) ([]*entity.Milestone, error) {
	out := make([]*entity.Milestone, 0, len(rows))
	for _, row := range rows {
		m, err := row.toEntity()
		if err != nil {
			return nil, fmt.Errorf("milestone %s: %w", row.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

type escrowTx struct {
	tx     *sqlx.Tx
	escrow *entity.Escrow
}

func (t *escrowTx) Escrow() *entity.Escrow { return t.escrow }

func (t *escrowTx) SaveEscrow(ctx context.Context) error {
	e := t.escrow
	_, err := t.tx.ExecContext(ctx, `
		UPDATE escrow_accounts
		SET status = $2, dispute_reason = $3, funded_at = $4, in_progress_at = $5, pending_approval_at = $6,
		    released_at = $7, disputed_at = $8, refunded_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1`,
		e.ID, string(e.Status), e.DisputeReason, e.FundedAt, e.InProgressAt, e.PendingApprovalAt,
		e.ReleasedAt, e.DisputedAt, e.RefundedAt, e.CancelledAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save escrow: %w", err)
	}
	return nil
}

func (t *escrowTx) SaveMilestone(ctx context.Context, m *entity.Milestone) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE escrow_milestones
		SET fee_rate = $3, fee_cents = $4, net_cents = $5, status = $6, intent_id = $7, client_secret = $8,
		    fund_request_id = $9, fund_attempt = $10, dispute_reason = $11, release_trigger = $12,
		    paid_at = $13, hold_until = $14, completed_at = $15, approved_at = $16, released_at = $17,
		    refunded_at = $18, disputed_at = $19, updated_at = $20
		WHERE id = $1 AND escrow_id = $2`,
		m.ID, t.escrow.ID, feeRateValue(m.FeeRate), m.PlatformFee, m.NetAmount, string(m.Status),
		m.IntentID, m.ClientSecret, m.FundRequestID, m.FundAttempt, m.DisputeReason, m.ReleaseTrigger,
		m.PaidAt, m.HoldUntil, m.CompletedAt, m.ApprovedAt, m.ReleasedAt, m.RefundedAt, m.DisputedAt, m.UpdatedAt,
	)
	if err != nil {
		return duplicateOr(err, "save milestone")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrMilestoneNotFound
	}
	return nil
}

func (t *escrowTx) AppendTransaction(ctx context.Context, tr *entity.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO escrow_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.EscrowID, tr.MilestoneID, string(tr.Kind), tr.Amount, tr.ProcessorRef, tr.CreatedAt,
	)
	if err != nil {
		return duplicateOr(err, "append transaction")
	}
	return nil
}

func (t *escrowTx) CreatePayout(ctx context.Context, job *entity.PayoutJob) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payout_jobs (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.MilestoneID, job.EscrowID, string(job.Kind), job.IdempotencyKey, job.Amount, job.Destination,
		string(job.Status), job.Attempts, job.NextAttemptAt, job.LastError, job.ProcessorRef, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return duplicateOr(err, "create payout")
	}
	return nil
}

func (t *escrowTx) SavePayout(ctx context.Context, job *entity.PayoutJob) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE payout_jobs
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5, processor_ref = $6, updated_at = $7
		WHERE idempotency_key = $1`,
		job.IdempotencyKey, string(job.Status), job.Attempts, job.NextAttemptAt, job.LastError, job.ProcessorRef, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save payout: %w", err)
	}
	return nil
}

func (t *escrowTx) FindPayout(ctx context.Context, key string) (*entity.PayoutJob, error) {
	var row payoutRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+payoutColumns+` FROM payout_jobs WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payout: %w", err)
	}
	return row.toEntity(), nil
}

func (t *escrowTx) MarkEventProcessed(ctx context.Context, eventID, kind string) (bool, error) {
	return markEvent(ctx, t.tx, eventID, kind)
}

// Наряды читаются и пишутся в транзакции блокировки, только в пределах этого escrow.

func (t *escrowTx) CreateWorkOrder(ctx context.Context, wo *entity.WorkOrder) error {
	if wo.EscrowID != t.escrow.ID {
		return apperror.ErrWorkOrderNotFound
	}
	return insertWorkOrder(ctx, t.tx, wo)
}

func (t *escrowTx) FindWorkOrder(ctx context.Context, id uuid.UUID) (*entity.WorkOrder, error) {
	return findWorkOrder(ctx, t.tx, `id = $1 AND escrow_id = $2 FOR UPDATE`, id, t.escrow.ID)
}

func (t *escrowTx) SaveWorkOrder(ctx context.Context, wo *entity.WorkOrder) error {
	if wo.EscrowID != t.escrow.ID {
		return apperror.ErrWorkOrderNotFound
	}
	return updateWorkOrder(ctx, t.tx, wo)
}

func (t *escrowTx) IsAssignee(ctx context.Context, userID uuid.UUID) (bool, error) {
	return isAssignee(ctx, t.tx, t.escrow.ID, userID)
}

func (t *escrowTx) Delete(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM escrow_accounts WHERE id = $1`, t.escrow.ID); err != nil {
		return fmt.Errorf("delete escrow: %w", err)
	}
	return nil
}

// markEvent вставляет id события; ноль строк: событие уже обработано.
func markEvent(ctx context.Context, tx *sqlx.Tx, eventID, kind string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO processor_events (event_id, kind) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, kind)
	if err != nil {
		return false, fmt.Errorf("mark event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark event: %w", err)
	}
	return n == 1, nil
}
