package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// FundResult: данные для подтверждения оплаты на стороне клиента.
type FundResult struct {
	EscrowID     uuid.UUID
	MilestoneID  uuid.UUID
	IntentID     string
	ClientSecret string
	Amount       valueobject.Money
	PlatformFee  valueobject.Money
	NetAmount    valueobject.Money
	// Reused: intent уже был выпущен раньше и возвращён повторно.
	Reused bool
}

// FundNext выставляет к оплате первый незакрытый этап.
func (e *Engine) FundNext(ctx context.Context, actor entity.Actor, escrowID uuid.UUID, requestID *string) (*FundResult, error) {
	return e.fund(ctx, actor, escrowID, requestID, func(esc *entity.Escrow) (*entity.Milestone, error) {
		return esc.NextFundable()
	})
}

// FundMilestone выставляет к оплате конкретный этап.
func (e *Engine) FundMilestone(ctx context.Context, actor entity.Actor, milestoneID uuid.UUID, requestID *string) (*FundResult, error) {
	escrowID, err := e.escrows.FindEscrowIDByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	return e.fund(ctx, actor, escrowID, requestID, func(esc *entity.Escrow) (*entity.Milestone, error) {
		m, ok := esc.Milestone(milestoneID)
		if !ok {
			return nil, apperror.ErrMilestoneNotFound
		}
		return m, nil
	})
}

func (e *Engine) fund(ctx context.Context, actor entity.Actor, escrowID uuid.UUID, requestID *string, pick func(*entity.Escrow) (*entity.Milestone, error)) (*FundResult, error) {
	var (
		result *FundResult
		esc    *entity.Escrow
		m      *entity.Milestone
	)

	err := e.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		esc = tx.Escrow()
		if err := e.authorize(ctx, actor, esc, tx.IsAssignee); err != nil {
			return err
		}
		if err := requireClient(actor, esc); err != nil {
			return err
		}

		var err error
		if m, err = pick(esc); err != nil {
			return err
		}

		// Повтор FUND: возвращаем уже выпущенный intent.
		if m.HasOpenIntent() {
			result = fundResult(esc, m, true)
			return nil
		}
		if m.Status != valueobject.MilestoneStatusPending {
			return apperror.State(string(m.Status), "этап уже оплачен")
		}
		if err := esc.CheckFundable(m); err != nil {
			return err
		}

		now := e.nowFn()
		rate, err := e.fees.FeeRateFor(ctx, esc.ClientID, now)
		if err != nil {
			return err
		}
		if err := m.FreezeFee(rate); err != nil {
			return err
		}

		callCtx, cancel := e.gatewayCtx(ctx)
		defer cancel()
		intent, err := e.gw.CreateHoldIntent(callCtx, m.Amount, gateway.FundKey(m.ID, m.FundAttempt), map[string]string{
			"escrow_id":    esc.ID.String(),
			"milestone_id": m.ID.String(),
			"client_id":    esc.ClientID.String(),
		})
		if err != nil {
			return gatewayError(err)
		}

		if err := m.MarkPaid(intent.ID, intent.ClientSecret, requestID, now); err != nil {
			return err
		}
		if err := e.persist(ctx, tx, esc, m, now); err != nil {
			return err
		}
		result = fundResult(esc, m, false)
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("escrow_id", escrowID).Warn("Оплата этапа не выставлена")
		return nil, err
	}

	if !result.Reused {
		e.log.WithFields(logrus.Fields{
			"escrow_id":    esc.ID,
			"milestone_id": m.ID,
			"intent_id":    result.IntentID,
			"fee":          m.PlatformFee.String(),
		}).Info("Этап выставлен к оплате")
		e.emit(esc, m, notify.EventMilestoneFunding, "Клиент оплачивает этап «"+m.Title+"»", map[string]string{
			"amount": m.Amount.String(),
		})
	}
	return result, nil
}

func fundResult(esc *entity.Escrow, m *entity.Milestone, reused bool) *FundResult {
	return &FundResult{
		EscrowID:     esc.ID,
		MilestoneID:  m.ID,
		IntentID:     *m.IntentID,
		ClientSecret: *m.ClientSecret,
		Amount:       m.Amount,
		PlatformFee:  m.PlatformFee,
		NetAmount:    m.NetAmount,
		Reused:       reused,
	}
}

// ConfirmFunding спрашивает процессор о выпущенных intent и передаёт сверщику
// только успешную оплату. Отказы приходят вебхуком: этот вызов лишь ускоряет
// подтверждение для клиента.
func (e *Engine) ConfirmFunding(ctx context.Context, actor entity.Actor, escrowID uuid.UUID) (*entity.Escrow, error) {
	esc, err := e.escrows.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actor, esc, e.assigneeOf(esc.ID)); err != nil {
		return nil, err
	}
	if err := requireClient(actor, esc); err != nil {
		return nil, err
	}

	for _, m := range esc.Milestones {
		if !m.HasOpenIntent() {
			continue
		}
		callCtx, cancel := e.gatewayCtx(ctx)
		state, err := e.gw.IntentStatus(callCtx, *m.IntentID)
		cancel()
		if err != nil {
			return nil, gatewayError(err)
		}
		if state != gateway.IntentSucceeded {
			e.log.WithFields(logrus.Fields{
				"escrow_id":    esc.ID,
				"milestone_id": m.ID,
				"intent_state": state,
			}).Debug("Оплата ещё не подтверждена процессором")
			continue
		}
		outcome, err := e.reconciler.ApplyIntent(ctx, "", *m.IntentID, state)
		if err != nil {
			return nil, err
		}
		e.log.WithFields(logrus.Fields{
			"escrow_id":    esc.ID,
			"milestone_id": m.ID,
			"intent_state": state,
			"outcome":      outcome,
		}).Info("Проверка оплаты по запросу клиента")
	}

	return e.escrows.FindByID(ctx, escrowID)
}
