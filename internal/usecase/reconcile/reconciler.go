package reconcile

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
)

// Outcome: что сверщик сделал с событием.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeUnknown: этап по intent не найден, событие отброшено.
	OutcomeUnknown Outcome = "unknown"
	// OutcomeStale: этап уже не ждёт подтверждения.
	OutcomeStale   Outcome = "stale"
	OutcomeIgnored Outcome = "ignored"
)

// AlertUnmatchedPayment: процессор сообщил об оплате intent, которого нет ни у одного этапа.
const AlertUnmatchedPayment = "UNMATCHED_PAYMENT"

// IntentCanceller отменяет intent, по которому пришёл отказ оплаты.
type IntentCanceller interface {
	CancelIntent(ctx context.Context, intentID, key string) (gateway.IntentState, error)
}

// Reconciler: единственный, кто переводит этап paid → held и paid → pending.
type Reconciler struct {
	escrows  repository.EscrowRepository
	accounts repository.AccountRepository
	intents  IntentCanceller
	events   *notify.Dispatcher
	log      logrus.FieldLogger
	hold     time.Duration
	nowFn    func() time.Time
}

func NewReconciler(escrows repository.EscrowRepository, accounts repository.AccountRepository, intents IntentCanceller, events *notify.Dispatcher, hold time.Duration, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		escrows:  escrows,
		accounts: accounts,
		intents:  intents,
		events:   events,
		log:      log,
		hold:     hold,
		nowFn:    time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (r *Reconciler) WithClock(nowFn func() time.Time) *Reconciler {
	r.nowFn = nowFn
	return r
}

// Handle применяет проверенное событие процессора.
func (r *Reconciler) Handle(ctx context.Context, evt gateway.Event) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"event_id": evt.ID, "event_type": evt.RawType})

	switch evt.Kind {
	case gateway.EventIntentSucceeded:
		return r.ApplyIntent(ctx, evt.ID, evt.IntentID, gateway.IntentSucceeded)
	case gateway.EventIntentFailed:
		log.WithFields(logrus.Fields{"intent_id": evt.IntentID, "failure": evt.Failure}).Info("Процессор сообщил об отказе оплаты")
		return r.ApplyIntent(ctx, evt.ID, evt.IntentID, gateway.IntentFailed)
	case gateway.EventAccountUpdated:
		if evt.Account == nil {
			return OutcomeIgnored, nil
		}
		applied, err := r.accounts.ApplyUpdate(ctx, evt.ID, &entity.ConnectedAccount{
			AccountID:        evt.Account.AccountID,
			ChargesEnabled:   evt.Account.ChargesEnabled,
			PayoutsEnabled:   evt.Account.PayoutsEnabled,
			DetailsSubmitted: evt.Account.DetailsSubmitted,
			UpdatedAt:        r.nowFn(),
		})
		if err != nil {
			return "", err
		}
		if !applied {
			log.Info("Событие счёта уже обработано или счёт неизвестен")
			return OutcomeDuplicate, nil
		}
		log.WithField("account_id", evt.Account.AccountID).Info("Флаги счёта обновлены")
		return OutcomeApplied, nil
	}

	log.Debug("Событие процессора не обрабатывается")
	return OutcomeIgnored, nil
}

// ApplyIntent переводит этап по результату intent. Пустой eventID: проверка по запросу
// клиента: такой вызов не записывается в таблицу обработанных событий.
func (r *Reconciler) ApplyIntent(ctx context.Context, eventID, intentID string, state gateway.IntentState) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"event_id": eventID, "intent_id": intentID})

	if state == gateway.IntentPending {
		return OutcomeStale, nil
	}

	escrowID, err := r.escrows.FindEscrowIDByIntent(ctx, intentID)
	if err != nil {
		if !apperror.IsNotFound(err) {
			return "", err
		}
		if state == gateway.IntentSucceeded {
			r.events.Alert(notify.Alert{
				Code:       AlertUnmatchedPayment,
				Message:    "Оплата по intent " + intentID + " не соответствует ни одному этапу",
				OccurredAt: r.nowFn(),
			})
		} else {
			log.Warn("Этап для intent не найден, событие отброшено")
		}
		return OutcomeUnknown, nil
	}

	outcome := OutcomeStale
	var milestone *entity.Milestone
	var esc *entity.Escrow

	err = r.escrows.WithEscrowLock(ctx, escrowID, func(tx repository.EscrowTx) error {
		if eventID != "" {
			fresh, err := tx.MarkEventProcessed(ctx, eventID, string(state))
			if err != nil {
				return err
			}
			if !fresh {
				outcome = OutcomeDuplicate
				return nil
			}
		}

		esc = tx.Escrow()
		for _, m := range esc.Milestones {
			if m.IntentID != nil && *m.IntentID == intentID {
				milestone = m
			}
		}
		if milestone == nil || milestone.Status != valueobject.MilestoneStatusPaid {
			return nil
		}

		// Отказ по карте не закрывает intent: клиент может оплатить его повторно.
		// Отменяем его, чтобы поздняя оплата не осталась без этапа.
		if state == gateway.IntentFailed {
			actual, err := r.intents.CancelIntent(ctx, intentID, gateway.CancelKey(milestone.ID, milestone.FundAttempt))
			if err != nil {
				return apperror.GatewayTransient(err, "не удалось отменить intent после отказа оплаты")
			}
			if actual == gateway.IntentPending {
				return nil
			}
			state = actual
		}

		now := r.nowFn()
		switch state {
		case gateway.IntentSucceeded:
			if err := milestone.Confirm(now, r.hold); err != nil {
				return err
			}
			ref := intentID
			deposit := entity.NewTransaction(milestone, valueobject.TransactionKindDeposit, milestone.Amount, &ref, now)
			if err := tx.AppendTransaction(ctx, deposit); err != nil {
				return err
			}
		case gateway.IntentFailed:
			if err := milestone.FailPayment(now); err != nil {
				return err
			}
		}

		if err := tx.SaveMilestone(ctx, milestone); err != nil {
			return err
		}
		esc.RefreshStatus(now)
		if err := tx.SaveEscrow(ctx); err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeDuplicate:
		log.Info("Повторная доставка события, пропускаем")
	case OutcomeStale:
		log.Info("Этап не ожидает подтверждения оплаты, событие пропущено")
	case OutcomeApplied:
		r.emit(esc, milestone, state)
	}
	return outcome, nil
}

func (r *Reconciler) emit(esc *entity.Escrow, m *entity.Milestone, state gateway.IntentState) {
	recipients := []uuid.UUID{esc.ClientID, esc.ProfessionalID}
	if esc.SpecialistID != nil {
		recipients = append(recipients, *esc.SpecialistID)
	}

	evt := notify.Event{
		EscrowID:    esc.ID,
		MilestoneID: &m.ID,
		Recipients:  recipients,
		Data:        map[string]string{"amount": m.Amount.String(), "escrow_status": string(esc.Status)},
		OccurredAt:  r.nowFn(),
	}

	var text string
	if state == gateway.IntentSucceeded {
		evt.Type = notify.EventMilestoneHeld
		evt.Data["hold_until"] = m.HoldUntil.UTC().Format(time.RFC3339)
		text = "Оплата этапа «" + m.Title + "» подтверждена, средства на удержании"
	} else {
		evt.Type = notify.EventMilestonePayFailed
		text = "Оплата этапа «" + m.Title + "» не прошла"
	}
	r.events.Emit(evt, text)
}
