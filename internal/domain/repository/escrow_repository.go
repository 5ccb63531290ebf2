package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
)

// ErrDuplicate: нарушение уникальности (журнал, ключ выплаты, событие).
var ErrDuplicate = errors.New("duplicate entity")

type EscrowRepository interface {
	Create(ctx context.Context, escrow *entity.Escrow) error
	// FindByID возвращает escrow вместе с этапами.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Escrow, error)
	FindEscrowIDByMilestone(ctx context.Context, milestoneID uuid.UUID) (uuid.UUID, error)
	FindEscrowIDByIntent(ctx context.Context, intentID string) (uuid.UUID, error)
	ListTransactions(ctx context.Context, escrowID uuid.UUID) ([]*entity.Transaction, error)
	// ListDueMilestones: held этапы с hold_until <= now, по возрастанию hold_until.
	ListDueMilestones(ctx context.Context, now time.Time, limit int) ([]*entity.Milestone, error)

	// WithEscrowLock блокирует строку escrow, затем строки этапов, и выполняет fn
	// в одной транзакции. Ошибка fn откатывает всё.
	WithEscrowLock(ctx context.Context, escrowID uuid.UUID, fn func(tx EscrowTx) error) error
}

// EscrowTx: операции внутри блокировки escrow.
type EscrowTx interface {
	// Escrow: заблокированный снимок; изменения сохраняются через Save*.
	Escrow() *entity.Escrow
	SaveEscrow(ctx context.Context) error
	SaveMilestone(ctx context.Context, m *entity.Milestone) error
	AppendTransaction(ctx context.Context, t *entity.Transaction) error
	CreatePayout(ctx context.Context, job *entity.PayoutJob) error
	SavePayout(ctx context.Context, job *entity.PayoutJob) error
	FindPayout(ctx context.Context, key string) (*entity.PayoutJob, error)
	// MarkEventProcessed возвращает false, если событие уже обработано.
	MarkEventProcessed(ctx context.Context, eventID, kind string) (bool, error)
	// Наряды этого escrow. Наряд чужого escrow не находится.
	CreateWorkOrder(ctx context.Context, wo *entity.WorkOrder) error
	FindWorkOrder(ctx context.Context, id uuid.UUID) (*entity.WorkOrder, error)
	SaveWorkOrder(ctx context.Context, wo *entity.WorkOrder) error
	IsAssignee(ctx context.Context, userID uuid.UUID) (bool, error)
	// Delete удаляет escrow каскадом.
	Delete(ctx context.Context) error
}

type PayoutRepository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.PayoutJob, error)
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*entity.PayoutJob, error)
}
