package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/dispatch"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow/escrowtest"
)

var ctx = context.Background()

func newDispatch(h *escrowtest.Harness) *dispatch.Engine {
	return dispatch.NewEngine(h.Store.Escrows(), h.Store.WorkOrders(), h.Identity, h.Subs, h.Events, logger.Discard()).
		WithClock(h.Clock.Now)
}

func order(t *testing.T, h *escrowtest.Harness, assignee uuid.UUID) dispatch.CreateInput {
	return dispatch.CreateInput{
		AssigneeID:  assignee,
		WorkType:    "электрика",
		Amount:      escrowtest.Money(t, "40.00"),
		Description: "Развести кабель по кухне",
	}
}

func TestCreateWorkOrder_RequiresHeldMilestone(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)
	esc := h.Simple(t, "100.00")

	_, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
	require.Error(t, err)
	assert.True(t, apperror.IsState(err))

	_, err = h.Engine.FundNext(ctx, h.Client, esc.ID, nil)
	require.NoError(t, err)
	_, err = d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
	assert.True(t, apperror.IsState(err), "оплата ещё не подтверждена")

	orders, err := h.Store.WorkOrders().ListByEscrow(ctx, esc.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateWorkOrder_Dispatcher(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)

	t.Run("professional without specialist", func(t *testing.T) {
		esc := h.Simple(t, "100.00")
		h.FundAndHold(t, esc.ID)

		wo, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
		require.NoError(t, err)
		assert.Equal(t, valueobject.WorkOrderStatusPending, wo.Status)
		assert.Equal(t, h.Professional.ID(), wo.CreatedBy)

		_, err = d.CreateWorkOrder(ctx, h.Client, esc.ID, order(t, h, h.Crew.ID()))
		assert.True(t, apperror.IsForbidden(err))
	})

	t.Run("specialist coordinates", func(t *testing.T) {
		esc := h.WithSpecialist(t, "100.00")
		h.FundAndHold(t, esc.ID)

		_, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
		assert.True(t, apperror.IsForbidden(err), "при специалисте наряды выдаёт он")

		wo, err := d.CreateWorkOrder(ctx, h.Specialist, esc.ID, order(t, h, h.Professional.ID()))
		require.NoError(t, err)
		assert.Equal(t, h.Professional.ID(), wo.AssignedTo)
	})

	t.Run("outsider", func(t *testing.T) {
		esc := h.Simple(t, "100.00")
		h.FundAndHold(t, esc.ID)

		_, err := d.CreateWorkOrder(ctx, h.Outsider, esc.ID, order(t, h, h.Crew.ID()))
		assert.True(t, apperror.IsNotFound(err))
	})
}

func TestCreateWorkOrder_AssigneeRules(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)
	esc := h.Simple(t, "100.00")
	h.FundAndHold(t, esc.ID)

	_, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Client.ID()))
	assert.True(t, apperror.IsValidation(err))

	_, err = d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, uuid.New()))
	assert.True(t, apperror.IsValidation(err))

	otherLead := uuid.New()
	stranger := uuid.New()
	h.Store.AddUser(repository.UserRecord{ID: stranger, Email: "stranger@example.test", Role: entity.RoleCrew, LeadContractorID: &otherLead})
	_, err = d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, stranger))
	assert.True(t, apperror.IsValidation(err))

	in := order(t, h, h.Crew.ID())
	in.Amount = escrowtest.Money(t, "100.01")
	_, err = d.CreateWorkOrder(ctx, h.Professional, esc.ID, in)
	assert.True(t, apperror.IsValidation(err))
}

func TestCreateWorkOrder_SpecialistPlanGate(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h).RequirePlan(true)
	esc := h.WithSpecialist(t, "100.00")
	h.FundAndHold(t, esc.ID)

	_, err := d.CreateWorkOrder(ctx, h.Specialist, esc.ID, order(t, h, h.Crew.ID()))
	assert.True(t, apperror.IsForbidden(err))

	plan := &entity.Plan{ID: uuid.New(), PlanType: entity.PlanTypeProfessional, Tier: "pro", Features: []string{entity.FeatureWorkOrders}, ProjectFeeRate: valueobject.MustRate("0.05"), IsActive: true}
	h.Store.AddPlan(plan)
	h.Store.Subscribe(h.Specialist.ID(), plan, entity.SubscriptionStatusActive, h.Clock.Now())
	h.Subs.InvalidatePlans()
	h.Subs.Invalidate(h.Specialist.ID())

	_, err = d.CreateWorkOrder(ctx, h.Specialist, esc.ID, order(t, h, h.Crew.ID()))
	require.NoError(t, err)
}

func TestWorkOrderLifecycle(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)
	esc := h.Simple(t, "100.00")
	fund := h.FundAndHold(t, esc.ID)

	wo, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
	require.NoError(t, err)

	_, err = d.Respond(ctx, h.Professional, wo.ID, true)
	assert.True(t, apperror.IsForbidden(err))

	wo, err = d.Respond(ctx, h.Crew, wo.ID, true)
	require.NoError(t, err)
	assert.Equal(t, valueobject.WorkOrderStatusAccepted, wo.Status)

	details, err := h.Engine.Get(ctx, h.Client, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", details.WorkStatus)

	wo, err = d.MarkInProgress(ctx, h.Crew, wo.ID)
	require.NoError(t, err)
	assert.NotNil(t, wo.StartedAt)

	_, err = d.Approve(ctx, h.Client, wo.ID)
	assert.True(t, apperror.IsState(err), "наряд ещё не завершён")

	wo, err = d.MarkCompleted(ctx, h.Crew, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.WorkOrderStatusCompleted, wo.Status)

	_, err = d.Approve(ctx, h.Crew, wo.ID)
	assert.True(t, apperror.IsForbidden(err))

	wo, err = d.Approve(ctx, h.Client, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.WorkOrderStatusApproved, wo.Status)

	// Наряды этап не двигают.
	assert.Equal(t, valueobject.MilestoneStatusHeld, h.Escrow(t, esc.ID).Milestones[0].Status)
	_, ok := h.Escrow(t, esc.ID).Milestone(fund.MilestoneID)
	assert.True(t, ok)

	mine, err := d.ListForAssignee(ctx, h.Crew)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, wo.ID, mine[0].ID)

	h.Events.Wait()
	assert.Contains(t, h.Recorder.Types(), notify.EventWorkOrderCreated)
	assert.Contains(t, h.Recorder.Types(), notify.EventWorkOrderUpdated)
}

func TestRespond_ConcurrentAnswersApplyOnce(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)
	esc := h.Simple(t, "100.00")
	h.FundAndHold(t, esc.ID)

	wo, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			if _, err := d.Respond(ctx, h.Crew, wo.ID, accept); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestCreateWorkOrder_RacesAutoRelease(t *testing.T) {
	for i := 0; i < 30; i++ {
		h := escrowtest.New(t)
		d := newDispatch(h)
		esc := h.Simple(t, "100.00")
		fund := h.FundAndHold(t, esc.ID)
		h.Clock.Advance(escrowtest.HoldPeriod + time.Second)

		var (
			wg       sync.WaitGroup
			created  *entity.WorkOrder
			createEr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			created, createEr = d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
		}()
		go func() {
			defer wg.Done()
			released, err := h.Engine.AutoRelease(ctx, fund.MilestoneID)
			assert.NoError(t, err)
			assert.True(t, released)
		}()
		wg.Wait()

		orders, err := h.Store.WorkOrders().ListByEscrow(ctx, esc.ID)
		require.NoError(t, err)
		if createEr != nil {
			// Выплата успела раньше: наряд не записан.
			assert.True(t, apperror.IsState(createEr), "неожиданная ошибка: %v", createEr)
			assert.Empty(t, orders)
			continue
		}
		require.Len(t, orders, 1)
		assert.Equal(t, created.ID, orders[0].ID)
	}
}

func TestListForEscrow_Visibility(t *testing.T) {
	h := escrowtest.New(t)
	d := newDispatch(h)
	esc := h.Simple(t, "100.00")
	h.FundAndHold(t, esc.ID)
	_, err := d.CreateWorkOrder(ctx, h.Professional, esc.ID, order(t, h, h.Crew.ID()))
	require.NoError(t, err)

	for _, actor := range []entity.Actor{h.Client, h.Professional, h.Crew, h.Admin} {
		orders, err := d.ListForEscrow(ctx, actor, esc.ID)
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	}

	_, err = d.ListForEscrow(ctx, h.Outsider, esc.ID)
	assert.True(t, apperror.IsNotFound(err))
}
