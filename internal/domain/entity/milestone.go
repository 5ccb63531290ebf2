package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// Как этап был выплачен.
const (
	ReleaseTriggerApprove    = "approve"
	ReleaseTriggerTimer      = "timer"
	ReleaseTriggerResolution = "resolution"
)

// Milestone: атом оплаты: все денежные переходы происходят здесь.
type Milestone struct {
	ID       uuid.UUID
	EscrowID uuid.UUID
	Position int
	Title    string

	Amount      valueobject.Money
	FeeRate     *valueobject.Rate
	PlatformFee valueobject.Money
	NetAmount   valueobject.Money

	Status         valueobject.MilestoneStatus
	IntentID       *string
	ClientSecret   *string
	FundRequestID  *string
	FundAttempt    int
	DisputeReason  *string
	ReleaseTrigger *string

	PaidAt      *time.Time
	HoldUntil   *time.Time
	CompletedAt *time.Time
	ApprovedAt  *time.Time
	ReleasedAt  *time.Time
	RefundedAt  *time.Time
	DisputedAt  *time.Time
	UpdatedAt   time.Time
}

func newMilestone(escrowID uuid.UUID, position int, title string, amount valueobject.Money, now time.Time) *Milestone {
	return &Milestone{
		ID:        uuid.New(),
		EscrowID:  escrowID,
		Position:  position,
		Title:     title,
		Amount:    amount,
		Status:    valueobject.MilestoneStatusPending,
		UpdatedAt: now,
	}
}

func (m *Milestone) transition(next valueobject.MilestoneStatus, message string, now time.Time) error {
	if !m.Status.CanTransitionTo(next) {
		return apperror.State(string(m.Status), message)
	}
	m.Status = next
	m.UpdatedAt = now
	return nil
}

// FreezeFee фиксирует ставку комиссии при первом финансировании. Повторный вызов ставку не меняет.
func (m *Milestone) FreezeFee(rate valueobject.Rate) error {
	if m.FeeRate != nil {
		return nil
	}
	fee, err := m.Amount.MultiplyRate(rate)
	if err != nil {
		return err
	}
	net, err := m.Amount.Sub(fee)
	if err != nil {
		return err
	}
	m.FeeRate = &rate
	m.PlatformFee = fee
	m.NetAmount = net
	return nil
}

// HasOpenIntent: этап уже ждёт подтверждения по выпущенному intent.
func (m *Milestone) HasOpenIntent() bool {
	return m.Status == valueobject.MilestoneStatusPaid && m.IntentID != nil
}

// MarkPaid: FUND: процессор принял удержание.
func (m *Milestone) MarkPaid(intentID, clientSecret string, requestID *string, now time.Time) error {
	if m.FeeRate == nil {
		return apperror.State(string(m.Status), "ставка комиссии не зафиксирована")
	}
	if err := m.transition(valueobject.MilestoneStatusPaid, "этап нельзя оплатить в текущем статусе", now); err != nil {
		return err
	}
	m.IntentID = &intentID
	m.ClientSecret = &clientSecret
	m.FundRequestID = requestID
	return nil
}

// Confirm: PROCESSOR_CONFIRM: деньги поступили, начинается окно удержания.
func (m *Milestone) Confirm(now time.Time, hold time.Duration) error {
	if err := m.transition(valueobject.MilestoneStatusHeld, "этап не ожидает подтверждения оплаты", now); err != nil {
		return err
	}
	holdUntil := now.Add(hold)
	m.PaidAt = &now
	m.HoldUntil = &holdUntil
	return nil
}

// FailPayment: PROCESSOR_FAIL: деньги не двигались, этап снова ждёт оплаты.
func (m *Milestone) FailPayment(now time.Time) error {
	if err := m.transition(valueobject.MilestoneStatusPending, "этап не ожидает подтверждения оплаты", now); err != nil {
		return err
	}
	m.IntentID = nil
	m.ClientSecret = nil
	m.FundRequestID = nil
	m.FundAttempt++
	return nil
}

// MarkDone: MARK_DONE от исполнителя.
func (m *Milestone) MarkDone(now time.Time) error {
	if m.Status != valueobject.MilestoneStatusHeld {
		return apperror.State(string(m.Status), "завершить можно только оплаченный этап")
	}
	if err := m.transition(valueobject.MilestoneStatusCompleted, "завершить можно только оплаченный этап", now); err != nil {
		return err
	}
	m.CompletedAt = &now
	return nil
}

// Approve: APPROVE клиента. Из held допускается сразу: окно удержания защищает клиента, он может от него отказаться.
func (m *Milestone) Approve(now time.Time) error {
	if m.Status != valueobject.MilestoneStatusHeld && m.Status != valueobject.MilestoneStatusCompleted {
		return apperror.State(string(m.Status), "этап нельзя подтвердить в текущем статусе")
	}
	if err := m.release(now, ReleaseTriggerApprove); err != nil {
		return err
	}
	m.ApprovedAt = &now
	return nil
}

// ElapseTimer: TIMER_ELAPSED: только held и только после hold_until.
func (m *Milestone) ElapseTimer(now time.Time) error {
	if m.Status != valueobject.MilestoneStatusHeld {
		return apperror.State(string(m.Status), "автовыплата возможна только для удерживаемого этапа")
	}
	if m.HoldUntil == nil || now.Before(*m.HoldUntil) {
		return apperror.State(string(m.Status), "окно удержания ещё не истекло")
	}
	return m.release(now, ReleaseTriggerTimer)
}

// Dispute: DISPUTE клиента из held или completed.
func (m *Milestone) Dispute(reason string, now time.Time) error {
	if m.Status != valueobject.MilestoneStatusHeld && m.Status != valueobject.MilestoneStatusCompleted {
		return apperror.State(string(m.Status), "спор можно открыть только по оплаченному этапу")
	}
	if err := m.transition(valueobject.MilestoneStatusDisputed, "спор можно открыть только по оплаченному этапу", now); err != nil {
		return err
	}
	m.DisputeReason = &reason
	m.DisputedAt = &now
	return nil
}

// ResolveRelease: RESOLVE_RELEASE администратора.
func (m *Milestone) ResolveRelease(now time.Time) error {
	if m.Status != valueobject.MilestoneStatusDisputed {
		return apperror.State(string(m.Status), "решение принимается только по спорному этапу")
	}
	return m.release(now, ReleaseTriggerResolution)
}

// ResolveRefund: RESOLVE_REFUND администратора.
func (m *Milestone) ResolveRefund(now time.Time) error {
	if m.Status != valueobject.MilestoneStatusDisputed {
		return apperror.State(string(m.Status), "решение принимается только по спорному этапу")
	}
	if err := m.transition(valueobject.MilestoneStatusRefunded, "возврат невозможен", now); err != nil {
		return err
	}
	m.RefundedAt = &now
	return nil
}

func (m *Milestone) release(now time.Time, trigger string) error {
	if m.FeeRate == nil {
		return apperror.State(string(m.Status), "ставка комиссии не зафиксирована")
	}
	if err := m.transition(valueobject.MilestoneStatusReleased, "выплата невозможна в текущем статусе", now); err != nil {
		return err
	}
	m.ReleasedAt = &now
	m.ReleaseTrigger = &trigger
	return nil
}

// IsDue: этап удерживается и окно истекло.
func (m *Milestone) IsDue(now time.Time) bool {
	return m.Status == valueobject.MilestoneStatusHeld && m.HoldUntil != nil && !now.Before(*m.HoldUntil)
}

// Clone возвращает независимую копию для транзакционных снимков.
func (m *Milestone) Clone() *Milestone {
	c := *m
	return &c
}
