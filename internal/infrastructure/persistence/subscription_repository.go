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

type SubscriptionRepository struct {
	db *sqlx.DB
}

var _ repository.SubscriptionRepository = (*SubscriptionRepository)(nil)

func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) ListPlans(ctx context.Context) ([]*entity.Plan, error) {
	var rows []planRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, plan_type, tier, name, price_cents, features, project_fee_rate, is_active
		FROM subscription_plans
		ORDER BY plan_type, price_cents`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	out := make([]*entity.Plan, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.UserSubscription, error) {
	var rows []subscriptionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, plan_id, status, current_period_end, created_at
		FROM user_subscriptions
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]*entity.UserSubscription, 0, len(rows))
	for _, row := range rows {
		out = append(out, &entity.UserSubscription{
			ID:               row.ID,
			UserID:           row.UserID,
			PlanID:           row.PlanID,
			Status:           row.Status,
			CurrentPeriodEnd: row.CurrentPeriodEnd,
			CreatedAt:        row.CreatedAt,
		})
	}
	return out, nil
}

type AccountRepository struct {
	db *sqlx.DB
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*entity.ConnectedAccount, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row, `
		SELECT user_id, account_id, charges_enabled, payouts_enabled, details_submitted, updated_at
		FROM connected_accounts WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &entity.ConnectedAccount{
		UserID:           row.UserID,
		AccountID:        row.AccountID,
		ChargesEnabled:   row.ChargesEnabled,
		PayoutsEnabled:   row.PayoutsEnabled,
		DetailsSubmitted: row.DetailsSubmitted,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

// Save создаёт или перезаписывает счёт пользователя.
func (r *AccountRepository) Save(ctx context.Context, a *entity.ConnectedAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connected_accounts (user_id, account_id, charges_enabled, payouts_enabled, details_submitted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET account_id = EXCLUDED.account_id,
		    charges_enabled = EXCLUDED.charges_enabled,
		    payouts_enabled = EXCLUDED.payouts_enabled,
		    details_submitted = EXCLUDED.details_submitted,
		    updated_at = EXCLUDED.updated_at`,
		a.UserID, a.AccountID, a.ChargesEnabled, a.PayoutsEnabled, a.DetailsSubmitted, a.UpdatedAt,
	)
	if err != nil {
		return duplicateOr(err, "save account")
	}
	return nil
}

// ApplyUpdate фиксирует событие и флаги счёта в одной транзакции.
func (r *AccountRepository) ApplyUpdate(ctx context.Context, eventID string, a *entity.ConnectedAccount) (bool, error) {
	var applied bool
	err := withTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		fresh, err := markEvent(ctx, tx, eventID, "account.updated")
		if err != nil || !fresh {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE connected_accounts
			SET charges_enabled = $2, payouts_enabled = $3, details_submitted = $4, updated_at = $5
			WHERE account_id = $1`,
			a.AccountID, a.ChargesEnabled, a.PayoutsEnabled, a.DetailsSubmitted, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		applied = n == 1
		return nil
	})
	return applied, err
}

type UserRepository struct {
	db *sqlx.DB
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*repository.UserRecord, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `SELECT id, email, role, lead_contractor_id FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return row.toRecord(), nil
}
