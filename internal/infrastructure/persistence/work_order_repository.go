package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

type WorkOrderRepository struct {
	db *sqlx.DB
}

var _ repository.WorkOrderRepository = (*WorkOrderRepository)(nil)

func NewWorkOrderRepository(db *sqlx.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

func (r *WorkOrderRepository) Create(ctx context.Context, wo *entity.WorkOrder) error {
	return insertWorkOrder(ctx, r.db, wo)
}

func (r *WorkOrderRepository) Update(ctx context.Context, wo *entity.WorkOrder) error {
	return updateWorkOrder(ctx, r.db, wo)
}

func (r *WorkOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.WorkOrder, error) {
	return findWorkOrder(ctx, r.db, `id = $1`, id)
}

func (r *WorkOrderRepository) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*entity.WorkOrder, error) {
	return r.list(ctx, `escrow_id = $1`, escrowID)
}

func (r *WorkOrderRepository) ListByAssignee(ctx context.Context, userID uuid.UUID) ([]*entity.WorkOrder, error) {
	return r.list(ctx, `assigned_to = $1`, userID)
}

func (r *WorkOrderRepository) IsAssignee(ctx context.Context, escrowID, userID uuid.UUID) (bool, error) {
	return isAssignee(ctx, r.db, escrowID, userID)
}

// Запросы ниже работают и с пулом, и с транзакцией блокировки escrow.

func insertWorkOrder(ctx context.Context, ex sqlx.ExtContext, wo *entity.WorkOrder) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO escrow_work_orders (`+workOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		wo.ID, wo.EscrowID, wo.CreatedBy, wo.AssignedTo, wo.WorkType, wo.AssignedAmount, wo.Description,
		string(wo.Status), wo.CreatedAt, wo.RespondedAt, wo.StartedAt, wo.CompletedAt, wo.ApprovedAt, wo.UpdatedAt,
	)
	if err != nil {
		return duplicateOr(err, "create work order")
	}
	return nil
}

func updateWorkOrder(ctx context.Context, ex sqlx.ExtContext, wo *entity.WorkOrder) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE escrow_work_orders
		SET status = $2, responded_at = $3, started_at = $4, completed_at = $5, approved_at = $6, updated_at = $7
		WHERE id = $1`,
		wo.ID, string(wo.Status), wo.RespondedAt, wo.StartedAt, wo.CompletedAt, wo.ApprovedAt, wo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update work order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrWorkOrderNotFound
	}
	return nil
}

func findWorkOrder(ctx context.Context, q sqlx.ExtContext, where string, args ...interface{}) (*entity.WorkOrder, error) {
	var row workOrderRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+workOrderColumns+` FROM escrow_work_orders WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrWorkOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find work order: %w", err)
	}
	return row.toEntity(), nil
}

func isAssignee(ctx context.Context, q sqlx.ExtContext, escrowID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS (SELECT 1 FROM escrow_work_orders WHERE escrow_id = $1 AND assigned_to = $2)`,
		escrowID, userID)
	if err != nil {
		return false, fmt.Errorf("check assignee: %w", err)
	}
	return exists, nil
}

func (r *WorkOrderRepository) list(ctx context.Context, where string, arg interface{}) ([]*entity.WorkOrder, error) {
	var rows []workOrderRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+workOrderColumns+` FROM escrow_work_orders WHERE `+where+` ORDER BY created_at`, arg)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	out := make([]*entity.WorkOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}
