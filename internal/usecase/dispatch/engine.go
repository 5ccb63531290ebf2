// Package dispatch: наряды внутри профинансированного escrow.
// Деньги не двигает и к процессору не обращается.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
)

type FeatureChecker interface {
	HasFeature(ctx context.Context, userID uuid.UUID, key string) (bool, error)
}

type Engine struct {
	escrows  repository.EscrowRepository
	orders   repository.WorkOrderRepository
	identity identity.Resolver
	features FeatureChecker
	events   *notify.Dispatcher
	log      logrus.FieldLogger
	nowFn    func() time.Time
	// requirePlan: специалисту нужен тариф с нарядами.
	requirePlan bool
}

func NewEngine(escrows repository.EscrowRepository, orders repository.WorkOrderRepository, resolver identity.Resolver, features FeatureChecker, events *notify.Dispatcher, log logrus.FieldLogger) *Engine {
	return &Engine{
		escrows:  escrows,
		orders:   orders,
		identity: resolver,
		features: features,
		events:   events,
		log:      log,
		nowFn:    time.Now,
	}
}

func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

// RequirePlan включает проверку тарифа специалиста.
func (e *Engine) RequirePlan(on bool) *Engine {
	e.requirePlan = on
	return e
}

// StepFunc: переход наряда от имени пользователя.
type StepFunc func(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID) (*entity.WorkOrder, error)

type CreateInput struct {
	AssigneeID  uuid.UUID
	WorkType    string
	Amount      valueobject.Money
	Description string
}

// CreateWorkOrder выдаёт наряд исполнителю. Нужен хотя бы один удерживаемый этап;
// проверка и запись идут под блокировкой escrow, чтобы этап не ушёл в выплату между ними.
func (e *Engine) CreateWorkOrder(ctx context.Context, actor entity.Actor, escrowID uuid.UUID, in CreateInput) (*entity.WorkOrder, error) {
	var (
		wo  *entity.WorkOrder
		esc *entity.Escrow
	)
	err := e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc = tx.Escrow()
		if err := e.visible(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if actor.ID() != esc.Dispatcher() {
			return apperror.New(apperror.ErrCodeForbidden, "наряды выдаёт координатор проекта")
		}
		if _, ok := actor.(entity.Specialist); ok && e.requirePlan {
			allowed, err := e.features.HasFeature(ctx, actor.ID(), entity.FeatureWorkOrders)
			if err != nil {
				return err
			}
			if !allowed {
				return apperror.New(apperror.ErrCodeForbidden, "тариф не включает выдачу нарядов")
			}
		}
		if !esc.HasHeldMilestone() {
			return apperror.ErrEscrowNotFunded
		}
		if in.Amount.Cmp(esc.TotalAmount) > 0 {
			return apperror.Validation("assigned_amount", "сумма наряда больше суммы проекта")
		}

		assignee, err := e.identity.Resolve(ctx, in.AssigneeID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.Validation("assignee_id", "исполнитель не найден")
			}
			return err
		}
		if !entity.CanExecuteWork(assignee) {
			return apperror.Validation("assignee_id", "наряд можно выдать только подрядчику или бригаде")
		}
		if crew, ok := assignee.(entity.Crew); ok && crew.LeadContractorID != nil && *crew.LeadContractorID != esc.ProfessionalID {
			return apperror.Validation("assignee_id", "исполнитель не входит в бригаду подрядчика проекта")
		}

		if wo, err = entity.NewWorkOrder(esc.ID, actor.ID(), in.AssigneeID, in.WorkType, in.Amount, in.Description, e.nowFn()); err != nil {
			return err
		}
		if err := tx.CreateWorkOrder(ctx, wo); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать наряд")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id":     esc.ID,
		"work_order_id": wo.ID,
		"assignee_id":   wo.AssignedTo,
	}).Info("Наряд выдан")
	e.emit(esc, wo, notify.EventWorkOrderCreated, "Выдан наряд «"+wo.WorkType+"»")
	return wo, nil
}

// Respond: исполнитель принимает или отклоняет наряд.
func (e *Engine) Respond(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID, accept bool) (*entity.WorkOrder, error) {
	return e.transition(ctx, actor, workOrderID, roleAssignee, func(wo *entity.WorkOrder, now time.Time) error {
		return wo.Respond(accept, now)
	})
}

// MarkInProgress: исполнитель приступил к работе.
func (e *Engine) MarkInProgress(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID) (*entity.WorkOrder, error) {
	return e.transition(ctx, actor, workOrderID, roleAssignee, func(wo *entity.WorkOrder, now time.Time) error {
		return wo.Start(now)
	})
}

// MarkCompleted: работы по наряду выполнены. Этап при этом не меняется.
func (e *Engine) MarkCompleted(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID) (*entity.WorkOrder, error) {
	return e.transition(ctx, actor, workOrderID, roleAssignee, func(wo *entity.WorkOrder, now time.Time) error {
		return wo.Complete(now)
	})
}

// Approve: клиент подтверждает выполненный наряд. Только информативно.
func (e *Engine) Approve(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID) (*entity.WorkOrder, error) {
	return e.transition(ctx, actor, workOrderID, roleClient, func(wo *entity.WorkOrder, now time.Time) error {
		return wo.Approve(now)
	})
}

func (e *Engine) ListForEscrow(ctx context.Context, actor entity.Actor, escrowID uuid.UUID) ([]*entity.WorkOrder, error) {
	esc, err := e.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	isAssignee := func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return e.orders.IsAssignee(ctx, esc.ID, userID)
	}
	if err := e.visible(ctx, actor, esc, isAssignee); err != nil {
		return nil, err
	}
	return e.orders.ListByEscrow(ctx, esc.ID)
}

func (e *Engine) ListForAssignee(ctx context.Context, actor entity.Actor) ([]*entity.WorkOrder, error) {
	return e.orders.ListByAssignee(ctx, actor.ID())
}

type role int

const (
	roleAssignee role = iota
	roleClient
)

// transition меняет наряд под блокировкой escrow: параллельные ответы не перетирают друг друга.
// Вне блокировки наряд читается только ради ID escrow.
func (e *Engine) transition(ctx context.Context, actor entity.Actor, workOrderID uuid.UUID, who role, apply func(*entity.WorkOrder, time.Time) error) (*entity.WorkOrder, error) {
	current, err := e.orders.FindByID(ctx, workOrderID)
	if err != nil {
		return nil, err
	}

	var (
		wo  *entity.WorkOrder
		esc *entity.Escrow
	)
	err = e.escrows.WithEscrowLock(ctx, current.EscrowID, func(tx repository.EscrowTx) error {
		esc = tx.Escrow()
		if err := e.visible(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}

		if wo, err = tx.FindWorkOrder(ctx, workOrderID); err != nil {
			return err
		}
		switch who {
		case roleAssignee:
			if wo.AssignedTo != actor.ID() {
				return apperror.New(apperror.ErrCodeForbidden, "действие доступно только исполнителю наряда")
			}
		case roleClient:
			if esc.ClientID != actor.ID() {
				return apperror.New(apperror.ErrCodeForbidden, "подтвердить наряд может только клиент")
			}
		}

		if err := apply(wo, e.nowFn()); err != nil {
			return err
		}
		return tx.SaveWorkOrder(ctx, wo)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id":     esc.ID,
		"work_order_id": wo.ID,
		"status":        wo.Status,
	}).Info("Статус наряда изменён")
	e.emit(esc, wo, notify.EventWorkOrderUpdated, "")
	return wo, nil
}

// visible: участники проекта, исполнители его нарядов и администратор.
func (e *Engine) visible(ctx context.Context, actor entity.Actor, esc *entity.Escrow, isAssignee func(context.Context, uuid.UUID) (bool, error)) error {
	if _, ok := actor.(entity.Admin); ok || esc.IsPartyOf(actor.ID()) {
		return nil
	}
	assigned, err := isAssignee(ctx, actor.ID())
	if err != nil {
		return err
	}
	if !assigned {
		return apperror.ErrEscrowNotFound
	}
	return nil
}

func (e *Engine) emit(esc *entity.Escrow, wo *entity.WorkOrder, kind, text string) {
	recipients := []uuid.UUID{esc.ClientID, esc.ProfessionalID, wo.AssignedTo}
	if esc.SpecialistID != nil {
		recipients = append(recipients, *esc.SpecialistID)
	}
	e.events.Emit(notify.Event{
		Type:       kind,
		EscrowID:   esc.ID,
		Recipients: recipients,
		Data: map[string]string{
			"work_order_id": wo.ID.String(),
			"status":        string(wo.Status),
			"work_type":     wo.WorkType,
		},
		OccurredAt: e.nowFn(),
	}, text)
}
