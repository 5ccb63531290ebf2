package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/validation"
)

// Settlement: результат перехода этапа, двигающего деньги.
type Settlement struct {
	Milestone    *entity.Milestone
	EscrowStatus valueobject.EscrowStatus
	// Payout пуст для переходов без выплаты (спор, завершение работ).
	Payout *entity.PayoutJob
}

// Действия над escrow целиком.
const (
	ActionApprove = "approve"
	ActionDispute = "dispute"
	ActionRelease = "release"
	ActionRefund  = "refund"
)

// MarkCompleted: исполнитель сообщает, что работы по этапу выполнены.
func (e *Engine) MarkCompleted(ctx context.Context, actor entity.Actor, milestoneID uuid.UUID) (*Settlement, error) {
	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireWorker(actor, esc); err != nil {
			return err
		}
		now := e.nowFn()
		if err := m.MarkDone(now); err != nil {
			return err
		}
		if err := e.persist(ctx, tx, esc, m, now); err != nil {
			return err
		}
		out = &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(esc, out.Milestone, notify.EventMilestoneCompleted, "Работы по этапу «"+out.Milestone.Title+"» выполнены, ждём подтверждения клиента", nil)
	return out, nil
}

// Approve: клиент подтверждает этап; чистая сумма уходит подрядчику.
func (e *Engine) Approve(ctx context.Context, actor entity.Actor, milestoneID uuid.UUID) (*Settlement, error) {
	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}
		var err error
		out, err = e.approveLocked(ctx, tx, esc, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.emitRelease(esc, out)
	return out, nil
}

// Dispute: клиент открывает спор по оплаченному этапу.
func (e *Engine) Dispute(ctx context.Context, actor entity.Actor, milestoneID uuid.UUID, reason string) (*Settlement, error) {
	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}
		var err error
		out, err = e.disputeLocked(ctx, tx, esc, m, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.emitDispute(esc, out)
	return out, nil
}

// ApproveEscrow применяет approve или dispute к этапу, который сейчас ждёт решения клиента.
func (e *Engine) ApproveEscrow(ctx context.Context, actor entity.Actor, escrowID uuid.UUID, action, reason string) (*Settlement, error) {
	if action != ActionApprove && action != ActionDispute {
		return nil, apperror.Validation("action", "допустимые действия: approve, dispute")
	}

	var out *Settlement
	var esc *entity.Escrow

	err := e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc = tx.Escrow()
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}
		m, err := esc.GatingMilestone()
		if err != nil {
			return err
		}
		if action == ActionApprove {
			out, err = e.approveLocked(ctx, tx, esc, m)
		} else {
			out, err = e.disputeLocked(ctx, tx, esc, m, reason)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if action == ActionApprove {
		e.emitRelease(esc, out)
	} else {
		e.emitDispute(esc, out)
	}
	return out, nil
}

// Resolve: решение администратора по спорному этапу.
func (e *Engine) Resolve(ctx context.Context, actor entity.Actor, milestoneID uuid.UUID, action string) (*Settlement, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if action != ActionRelease && action != ActionRefund {
		return nil, apperror.Validation("action", "допустимые действия: release, refund")
	}

	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		now := e.nowFn()

		if action == ActionRefund {
			if err := m.ResolveRefund(now); err != nil {
				return err
			}
			job, err := e.commitRefund(ctx, tx, esc, m, now)
			if err != nil {
				return err
			}
			out = &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status, Payout: job}
			return nil
		}

		prev := m.Status
		if err := m.ResolveRelease(now); err != nil {
			return err
		}
		destination, err := e.payeeAccount(ctx, esc, prev)
		if err != nil {
			return err
		}
		job, err := e.commitRelease(ctx, tx, esc, m, destination, now)
		if err != nil {
			return err
		}
		out = &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status, Payout: job}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"escrow_id":    esc.ID,
		"milestone_id": milestoneID,
		"action":       action,
		"admin_id":     actor.ID(),
	}).Info("Спор по этапу разрешён")

	if action == ActionRefund {
		e.emit(esc, out.Milestone, notify.EventMilestoneRefunded, "Средства по этапу «"+out.Milestone.Title+"» возвращены клиенту", map[string]string{
			"amount":        out.Milestone.Amount.String(),
			"payout_status": string(out.Payout.Status),
		})
	} else {
		e.emitRelease(esc, out)
	}
	return out, nil
}

// AutoRelease выплачивает этап по истечении окна удержания. Если этап уже не
// подходит (клиент успел решить сам или открыл спор), возвращает false без ошибки.
func (e *Engine) AutoRelease(ctx context.Context, milestoneID uuid.UUID) (bool, error) {
	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		now := e.nowFn()
		if !m.IsDue(now) {
			return nil
		}
		if err := m.ElapseTimer(now); err != nil {
			return err
		}
		destination, err := e.payeeAccount(ctx, esc, valueobject.MilestoneStatusHeld)
		if err != nil {
			return err
		}
		job, err := e.commitRelease(ctx, tx, esc, m, destination, now)
		if err != nil {
			return err
		}
		out = &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status, Payout: job}
		return nil
	})
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, nil
	}

	e.emitRelease(esc, out)
	return true, nil
}

// PromoteStuck переводит застрявший этап в спор, чтобы его разобрал администратор.
func (e *Engine) PromoteStuck(ctx context.Context, milestoneID uuid.UUID, reason string) (bool, error) {
	var out *Settlement
	var esc *entity.Escrow

	err := e.withMilestone(ctx, milestoneID, func(tx repository.EscrowTx, locked *entity.Escrow, m *entity.Milestone) error {
		esc = locked
		if !m.IsDue(e.nowFn()) {
			return nil
		}
		var err error
		out, err = e.disputeLocked(ctx, tx, esc, m, reason)
		return err
	})
	if err != nil || out == nil {
		return false, err
	}

	e.emitDispute(esc, out)
	return true, nil
}

func (e *Engine) approveLocked(ctx context.Context, tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone) (*Settlement, error) {
	now := e.nowFn()
	prev := m.Status
	if err := m.Approve(now); err != nil {
		return nil, err
	}
	destination, err := e.payeeAccount(ctx, esc, prev)
	if err != nil {
		return nil, err
	}
	job, err := e.commitRelease(ctx, tx, esc, m, destination, now)
	if err != nil {
		return nil, err
	}
	return &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status, Payout: job}, nil
}

func (e *Engine) disputeLocked(ctx context.Context, tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone, reason string) (*Settlement, error) {
	if err := validation.ValidateDisputeReason(reason); err != nil {
		return nil, apperror.Validation("reason", err.Error())
	}
	reason = strings.TrimSpace(reason)
	now := e.nowFn()
	if err := m.Dispute(reason, now); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, tx, esc, m, now); err != nil {
		return nil, err
	}
	return &Settlement{Milestone: m.Clone(), EscrowStatus: esc.Status}, nil
}

// payeeAccount: connected account подрядчика, на который уходит выплата.
// При отказе переход откатывается, поэтому в ошибке статус до перехода.
func (e *Engine) payeeAccount(ctx context.Context, esc *entity.Escrow, status valueobject.MilestoneStatus) (string, error) {
	account, err := e.accounts.FindByUser(ctx, esc.ProfessionalID)
	if err != nil && !apperror.IsNotFound(err) {
		return "", err
	}
	if account == nil || account.AccountID == "" || !account.PayoutsEnabled {
		return "", apperror.State(string(status), "у подрядчика не подключён счёт для выплат")
	}
	return account.AccountID, nil
}

// commitRelease записывает выплату: этап, журнал (net и комиссия) и задачу перевода.
// Окончательный отказ процессора откатывает всё; временный оставляет задачу в очереди.
func (e *Engine) commitRelease(ctx context.Context, tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone, destination string, now time.Time) (*entity.PayoutJob, error) {
	job := entity.NewPayoutJob(m, entity.PayoutKindRelease, gateway.Key(gateway.OpRelease, m.ID), m.NetAmount, destination, now)
	if err := e.execute(ctx, job, now); err != nil {
		return nil, err
	}

	if err := tx.SaveMilestone(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.AppendTransaction(ctx, entity.NewTransaction(m, valueobject.TransactionKindRelease, m.NetAmount, job.ProcessorRef, now)); err != nil {
		return nil, err
	}
	if err := tx.AppendTransaction(ctx, entity.NewTransaction(m, valueobject.TransactionKindFee, m.PlatformFee, nil, now)); err != nil {
		return nil, err
	}
	if err := tx.CreatePayout(ctx, job); err != nil {
		return nil, err
	}
	esc.RefreshStatus(now)
	if err := tx.SaveEscrow(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// commitRefund возвращает клиенту полную сумму этапа через refund intent.
func (e *Engine) commitRefund(ctx context.Context, tx repository.EscrowTx, esc *entity.Escrow, m *entity.Milestone, now time.Time) (*entity.PayoutJob, error) {
	if m.IntentID == nil {
		return nil, apperror.State(string(m.Status), "у этапа нет платежа для возврата")
	}
	job := entity.NewPayoutJob(m, entity.PayoutKindRefund, gateway.Key(gateway.OpRefund, m.ID), m.Amount, *m.IntentID, now)
	if err := e.execute(ctx, job, now); err != nil {
		return nil, err
	}

	if err := tx.SaveMilestone(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.AppendTransaction(ctx, entity.NewTransaction(m, valueobject.TransactionKindRefund, m.Amount, job.ProcessorRef, now)); err != nil {
		return nil, err
	}
	if err := tx.CreatePayout(ctx, job); err != nil {
		return nil, err
	}
	esc.RefreshStatus(now)
	if err := tx.SaveEscrow(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// execute делает первую попытку выплаты внутри блокировки.
func (e *Engine) execute(ctx context.Context, job *entity.PayoutJob, now time.Time) error {
	callCtx, cancel := e.gatewayCtx(ctx)
	defer cancel()

	ref, err := e.exec.Call(callCtx, job)
	log := e.log.WithFields(logrus.Fields{
		"escrow_id":       job.EscrowID,
		"milestone_id":    job.MilestoneID,
		"idempotency_key": job.IdempotencyKey,
	})

	switch {
	case err == nil:
		job.Succeed(ref, now)
		log.WithField("processor_ref", ref).Info("Выплата выполнена")
		return nil
	case gateway.IsTransient(err) && ctx.Err() == nil:
		next := now.Add(gateway.Backoff(1))
		job.Retry(err, next, now)
		log.WithError(err).WithField("next_attempt_at", next).Warn("Процессор недоступен, выплата поставлена в очередь")
		return nil
	}

	log.WithError(err).Error("Процессор отклонил выплату, переход отменён")
	return gatewayError(err)
}

func (e *Engine) emitRelease(esc *entity.Escrow, out *Settlement) {
	m := out.Milestone
	e.emit(esc, m, notify.EventMilestoneReleased, "Этап «"+m.Title+"» закрыт: подрядчику перечислено "+m.NetAmount.String(), map[string]string{
		"net_amount":    m.NetAmount.String(),
		"platform_fee":  m.PlatformFee.String(),
		"trigger":       stringOr(m.ReleaseTrigger, ""),
		"payout_status": string(out.Payout.Status),
	})
}

func (e *Engine) emitDispute(esc *entity.Escrow, out *Settlement) {
	m := out.Milestone
	e.emit(esc, m, notify.EventMilestoneDisputed, "По этапу «"+m.Title+"» открыт спор", map[string]string{
		"reason": stringOr(m.DisputeReason, ""),
	})
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
