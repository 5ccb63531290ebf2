package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
)

type SubscriptionRepository interface {
	ListPlans(ctx context.Context) ([]*entity.Plan, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.UserSubscription, error)
}

type AccountRepository interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*entity.ConnectedAccount, error)
	Save(ctx context.Context, account *entity.ConnectedAccount) error
	// ApplyUpdate обновляет флаги счёта по событию процессора.
	// Возвращает false, если событие уже обработано или счёт неизвестен.
	ApplyUpdate(ctx context.Context, eventID string, account *entity.ConnectedAccount) (bool, error)
}

// UserRecord: строка таблицы users, которой владеет внешний сервис профилей.
type UserRecord struct {
	ID               uuid.UUID
	Email            string
	Role             string
	LeadContractorID *uuid.UUID
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*UserRecord, error)
}
