package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// Resolver превращает идентификатор пользователя в Actor.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (entity.Actor, error)
}

// Directory читает профили из таблицы users и счета выплат подрядчиков.
type Directory struct {
	users    repository.UserRepository
	accounts repository.AccountRepository
}

func NewDirectory(users repository.UserRepository, accounts repository.AccountRepository) *Directory {
	return &Directory{users: users, accounts: accounts}
}

func (d *Directory) Resolve(ctx context.Context, userID uuid.UUID) (entity.Actor, error) {
	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var account *entity.ConnectedAccount
	if user.Role == entity.RoleContractor {
		account, err = d.accounts.FindByUser(ctx, userID)
		if err != nil && !apperror.IsNotFound(err) {
			return nil, err
		}
	}

	return entity.NewActor(entity.Identity{UserID: user.ID, Email: user.Email}, user.Role, user.LeadContractorID, account)
}
