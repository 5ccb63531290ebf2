package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

var (
	ctx = context.Background()
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newEscrow(t *testing.T, s *memory.Store) *entity.Escrow {
	t.Helper()
	amount, err := valueobject.ParseMoney("100.00")
	require.NoError(t, err)
	minAmount, err := valueobject.ParseMoney("10.00")
	require.NoError(t, err)
	esc, err := entity.NewEscrow(entity.NewEscrowParams{
		ClientID:       uuid.New(),
		ProfessionalID: uuid.New(),
		Title:          "Ремонт кухни",
		ProjectType:    valueobject.ProjectTypeSimple,
		Amount:         amount,
		MinAmount:      minAmount,
		MaxAmount:      amount,
	}, now)
	require.NoError(t, err)
	require.NoError(t, s.Escrows().Create(ctx, esc))
	return esc
}

func newWorkOrder(t *testing.T, esc *entity.Escrow, assignee uuid.UUID) *entity.WorkOrder {
	t.Helper()
	wo, err := entity.NewWorkOrder(esc.ID, esc.ProfessionalID, assignee, "сантехника", esc.TotalAmount, "Заменить смеситель", now)
	require.NoError(t, err)
	return wo
}

func TestEscrowTx_WorkOrdersCommitWithLock(t *testing.T) {
	s := memory.NewStore()
	esc := newEscrow(t, s)
	crew := uuid.New()
	wo := newWorkOrder(t, esc, crew)

	err := s.Escrows().WithEscrowLock(ctx, esc.ID, func(tx repository.EscrowTx) error {
		require.NoError(t, tx.CreateWorkOrder(ctx, wo))
		assigned, err := tx.IsAssignee(ctx, crew)
		require.NoError(t, err)
		assert.True(t, assigned, "наряд виден внутри транзакции до фиксации")

		assigned, err = s.WorkOrders().IsAssignee(ctx, esc.ID, crew)
		require.NoError(t, err)
		assert.False(t, assigned, "снаружи наряда ещё нет")
		return nil
	})
	require.NoError(t, err)

	stored, err := s.WorkOrders().FindByID(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.WorkOrderStatusPending, stored.Status)
}

func TestEscrowTx_WorkOrdersRollBack(t *testing.T) {
	s := memory.NewStore()
	esc := newEscrow(t, s)
	wo := newWorkOrder(t, esc, uuid.New())
	require.NoError(t, s.WorkOrders().Create(ctx, wo))

	boom := errors.New("boom")
	err := s.Escrows().WithEscrowLock(ctx, esc.ID, func(tx repository.EscrowTx) error {
		locked, err := tx.FindWorkOrder(ctx, wo.ID)
		require.NoError(t, err)
		require.NoError(t, locked.Respond(true, now))
		require.NoError(t, tx.SaveWorkOrder(ctx, locked))
		require.NoError(t, tx.CreateWorkOrder(ctx, newWorkOrder(t, esc, uuid.New())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.WorkOrders().FindByID(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.WorkOrderStatusPending, stored.Status)
	orders, err := s.WorkOrders().ListByEscrow(ctx, esc.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestEscrowTx_WorkOrdersScopedToEscrow(t *testing.T) {
	s := memory.NewStore()
	esc := newEscrow(t, s)
	other := newEscrow(t, s)
	foreign := newWorkOrder(t, other, uuid.New())
	require.NoError(t, s.WorkOrders().Create(ctx, foreign))

	err := s.Escrows().WithEscrowLock(ctx, esc.ID, func(tx repository.EscrowTx) error {
		_, err := tx.FindWorkOrder(ctx, foreign.ID)
		assert.True(t, apperror.IsNotFound(err))
		assert.Error(t, tx.SaveWorkOrder(ctx, foreign))
		assert.Error(t, tx.CreateWorkOrder(ctx, newWorkOrder(t, other, uuid.New())))

		assigned, err := tx.IsAssignee(ctx, foreign.AssignedTo)
		require.NoError(t, err)
		assert.False(t, assigned)
		return nil
	})
	require.NoError(t, err)
}
