// Package escrow: движок escrow: все переходы этапов выполняются под
// блокировкой строки escrow в одной транзакции с журналом и выплатой.
package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/payout"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/reconcile"
)

// FeePolicy: то, что движку нужно от подписок.
type FeePolicy interface {
	FeeRateFor(ctx context.Context, userID uuid.UUID, at time.Time) (valueobject.Rate, error)
	HasFeature(ctx context.Context, userID uuid.UUID, key string) (bool, error)
}

// IntentReconciler применяет результат intent. Переводы paid → held и paid → pending
// делает только он.
type IntentReconciler interface {
	ApplyIntent(ctx context.Context, eventID, intentID string, state gateway.IntentState) (reconcile.Outcome, error)
}

type Config struct {
	HoldPeriod time.Duration
	MinAmount  valueobject.Money
	MaxAmount  valueobject.Money
	// GatewayTimeout ограничивает один вызов процессора внутри блокировки.
	GatewayTimeout time.Duration
}

type Deps struct {
	Escrows    repository.EscrowRepository
	Payouts    repository.PayoutRepository
	WorkOrders repository.WorkOrderRepository
	Accounts   repository.AccountRepository
	Fees       FeePolicy
	Identity   identity.Resolver
	Gateway    gateway.Processor
	Reconciler IntentReconciler
	Events     *notify.Dispatcher
	Log        logrus.FieldLogger
}

type Engine struct {
	escrows    repository.EscrowRepository
	payouts    repository.PayoutRepository
	workOrders repository.WorkOrderRepository
	accounts   repository.AccountRepository
	fees       FeePolicy
	identity   identity.Resolver
	gw         gateway.Processor
	exec       *payout.Executor
	reconciler IntentReconciler
	events     *notify.Dispatcher
	log        logrus.FieldLogger
	cfg        Config
	nowFn      func() time.Time
}

func NewEngine(d Deps, cfg Config) *Engine {
	return &Engine{
		escrows:    d.Escrows,
		payouts:    d.Payouts,
		workOrders: d.WorkOrders,
		accounts:   d.Accounts,
		fees:       d.Fees,
		identity:   d.Identity,
		gw:         d.Gateway,
		exec:       payout.NewExecutor(d.Gateway),
		reconciler: d.Reconciler,
		events:     d.Events,
		log:        d.Log,
		cfg:        cfg,
		nowFn:      time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

// CreateInput: запрос клиента на создание escrow.
type CreateInput struct {
	ProfessionalID uuid.UUID
	SpecialistID   *uuid.UUID
	Title          string
	Description    string
	ProjectType    string
	Amount         valueobject.Money
	Milestones     []entity.MilestoneSpec
}

// Create создаёт escrow одной из трёх форм. Деньги не двигаются.
func (e *Engine) Create(ctx context.Context, actor entity.Actor, in CreateInput) (*entity.Escrow, error) {
	client, ok := actor.(entity.Client)
	if !ok {
		return nil, apperror.New(apperror.ErrCodeForbidden, "создать escrow может только клиент")
	}

	projectType, err := valueobject.NewProjectType(in.ProjectType)
	if err != nil {
		return nil, err
	}
	if projectType == valueobject.ProjectTypeComplex {
		allowed, err := e.fees.HasFeature(ctx, client.ID(), entity.FeatureComplexProjects)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, apperror.New(apperror.ErrCodeForbidden, "тариф не включает сложные проекты")
		}
	}

	if err := e.expectRole(ctx, in.ProfessionalID, "professional_id", func(a entity.Actor) bool {
		_, ok := a.(entity.Professional)
		return ok
	}); err != nil {
		return nil, err
	}
	if in.SpecialistID != nil {
		if err := e.expectRole(ctx, *in.SpecialistID, "specialist_id", func(a entity.Actor) bool {
			_, ok := a.(entity.Specialist)
			return ok
		}); err != nil {
			return nil, err
		}
	}

	now := e.nowFn()
	esc, err := entity.NewEscrow(entity.NewEscrowParams{
		ClientID:       client.ID(),
		ProfessionalID: in.ProfessionalID,
		SpecialistID:   in.SpecialistID,
		Title:          in.Title,
		Description:    in.Description,
		ProjectType:    projectType,
		Amount:         in.Amount,
		Milestones:     in.Milestones,
		MinAmount:      e.cfg.MinAmount,
		MaxAmount:      e.cfg.MaxAmount,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := e.escrows.Create(ctx, esc); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать escrow")
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id":    esc.ID,
		"project_type": esc.ProjectType,
		"total":        esc.TotalAmount.String(),
	}).Info("Escrow создан")

	e.emit(esc, nil, notify.EventEscrowCreated, "Создан безопасный платёж «"+esc.Title+"» на сумму "+esc.TotalAmount.String(), map[string]string{
		"total_amount": esc.TotalAmount.String(),
		"project_type": string(esc.ProjectType),
	})
	return esc, nil
}

func (e *Engine) expectRole(ctx context.Context, userID uuid.UUID, field string, match func(entity.Actor) bool) error {
	a, err := e.identity.Resolve(ctx, userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return apperror.Validation(field, "пользователь не найден")
		}
		return err
	}
	if !match(a) {
		return apperror.Validation(field, "пользователь не может занимать эту роль в проекте")
	}
	return nil
}

// Details: представление escrow для участника.
type Details struct {
	Escrow       *entity.Escrow
	WorkOrders   []*entity.WorkOrder
	Transactions []*entity.Transaction
	Payouts      []*entity.PayoutJob
	Ledger       entity.Ledger
	Held         valueobject.Money
	WorkStatus   string
}

func (e *Engine) Get(ctx context.Context, actor entity.Actor, escrowID uuid.UUID) (*Details, error) {
	esc, err := e.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actor, esc, e.assigneeOf(esc.ID)); err != nil {
		return nil, err
	}

	orders, err := e.workOrders.ListByEscrow(ctx, esc.ID)
	if err != nil {
		return nil, err
	}
	txs, err := e.escrows.ListTransactions(ctx, esc.ID)
	if err != nil {
		return nil, err
	}
	jobs, err := e.payouts.ListByEscrow(ctx, esc.ID)
	if err != nil {
		return nil, err
	}

	return &Details{
		Escrow:       esc,
		WorkOrders:   orders,
		Transactions: txs,
		Payouts:      jobs,
		Ledger:       entity.Summarize(txs),
		Held:         esc.HeldBalance(),
		WorkStatus:   entity.WorkStatus(orders),
	}, nil
}

// Delete удаляет escrow, по которому деньги ни разу не выставлялись.
func (e *Engine) Delete(ctx context.Context, actor entity.Actor, escrowID uuid.UUID) error {
	var deleted *entity.Escrow

	err := e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc := tx.Escrow()
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}
		if !esc.NeverFunded() {
			return apperror.State(string(esc.Status), "escrow с оплатами удалить нельзя")
		}
		deleted = esc
		return tx.Delete(ctx)
	})
	if err != nil {
		return err
	}

	e.log.WithField("escrow_id", escrowID).Info("Escrow удалён")
	e.emit(deleted, nil, notify.EventEscrowDeleted, "", nil)
	return nil
}

// Cancel: клиент закрывает escrow без денег в работе; запись остаётся в истории.
func (e *Engine) Cancel(ctx context.Context, actor entity.Actor, escrowID uuid.UUID) (*entity.Escrow, error) {
	var cancelled *entity.Escrow

	err := e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc := tx.Escrow()
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}
		if err := esc.Cancel(e.nowFn()); err != nil {
			return err
		}
		cancelled = esc
		return tx.SaveEscrow(ctx)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithField("escrow_id", escrowID).Info("Escrow отменён")
	e.emit(cancelled, nil, notify.EventEscrowCancelled, "Проект «"+cancelled.Title+"» отменён клиентом", nil)
	return cancelled, nil
}

// authorize пропускает участников проекта. Остальные не должны узнать о его существовании.
// isAssignee: под блокировкой escrow это tx.IsAssignee, иначе assigneeOf.
func (e *Engine) authorize(ctx context.Context, actor entity.Actor, esc *entity.Escrow, isAssignee func(context.Context, uuid.UUID) (bool, error)) error {
	switch actor.(type) {
	case entity.Admin, entity.System:
		return nil
	}
	if esc.IsPartyOf(actor.ID()) {
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

func (e *Engine) assigneeOf(escrowID uuid.UUID) func(context.Context, uuid.UUID) (bool, error) {
	return func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return e.workOrders.IsAssignee(ctx, escrowID, userID)
	}
}

func requireClient(actor entity.Actor, esc *entity.Escrow) error {
	if actor.ID() != esc.ClientID {
		return apperror.New(apperror.ErrCodeForbidden, "действие доступно только клиенту проекта")
	}
	return nil
}

func requireWorker(actor entity.Actor, esc *entity.Escrow) error {
	if !esc.CanManageWork(actor.ID()) {
		return apperror.New(apperror.ErrCodeForbidden, "действие доступно только исполнителю проекта")
	}
	return nil
}

func requireAdmin(actor entity.Actor) error {
	if _, ok := actor.(entity.Admin); !ok {
		return apperror.New(apperror.ErrCodeForbidden, "решение по спору принимает администратор")
	}
	return nil
}

// withMilestone блокирует escrow этапа и передаёт этап в fn.
func (e *Engine) withMilestone(ctx context.Context, milestoneID uuid.UUID, fn func(tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone) error) error {
	escrowID, err := e.escrows.FindEscrowIDByMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	return e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc := tx.Escrow()
		m, ok := esc.Milestone(milestoneID)
		if !ok {
			return apperror.ErrMilestoneNotFound
		}
		return fn(tx, esc, m)
	})
}

// persist сохраняет этап и производный статус escrow.
func (e *Engine) persist(ctx context.Context, tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone, now time.Time) error {
	if err := tx.SaveMilestone(ctx, m); err != nil {
		return err
	}
	esc.RefreshStatus(now)
	return tx.SaveEscrow(ctx)
}

func gatewayError(err error) error {
	if gateway.IsTransient(err) {
		return apperror.GatewayTransient(err, "платёжный процессор временно недоступен")
	}
	return apperror.GatewayFatal(err, "платёжный процессор отклонил операцию")
}

func (e *Engine) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.GatewayTimeout)
}

func recipients(esc *entity.Escrow) []uuid.UUID {
	out := []uuid.UUID{esc.ClientID, esc.ProfessionalID}
	if esc.SpecialistID != nil {
		out = append(out, *esc.SpecialistID)
	}
	return out
}

// emit отправляет событие после коммита.
func (e *Engine) emit(esc *entity.Escrow, m *entity.Milestone, kind, text string, data map[string]string) {
	if data == nil {
		data = make(map[string]string)
	}
	data["escrow_status"] = string(esc.Status)

	evt := notify.Event{
		Type:       kind,
		EscrowID:   esc.ID,
		Recipients: recipients(esc),
		Data:       data,
		OccurredAt: e.nowFn(),
	}
	if m != nil {
		id := m.ID
		evt.MilestoneID = &id
		data["milestone_status"] = string(m.Status)
	}
	e.events.Emit(evt, text)
}
