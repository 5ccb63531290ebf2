package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
)

type WorkOrderRepository interface {
	Create(ctx context.Context, wo *entity.WorkOrder) error
	Update(ctx context.Context, wo *entity.WorkOrder) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.WorkOrder, error)
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*entity.WorkOrder, error)
	ListByAssignee(ctx context.Context, userID uuid.UUID) ([]*entity.WorkOrder, error)
	IsAssignee(ctx context.Context, escrowID, userID uuid.UUID) (bool, error)
}
