package entity

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/validation"
)

// installmentShare: доля первого платежа в рассрочке.
var installmentShare = valueobject.MustRate("0.5")

type Escrow struct {
	ID             uuid.UUID
	ClientID       uuid.UUID
	ProfessionalID uuid.UUID
	SpecialistID   *uuid.UUID
	Title          string
	Description    string
	ProjectType    valueobject.ProjectType
	TotalAmount    valueobject.Money
	Status         valueobject.EscrowStatus
	DisputeReason  *string

	CreatedAt         time.Time
	FundedAt          *time.Time
	InProgressAt      *time.Time
	PendingApprovalAt *time.Time
	ReleasedAt        *time.Time
	DisputedAt        *time.Time
	RefundedAt        *time.Time
	CancelledAt       *time.Time
	UpdatedAt         time.Time

	Milestones []*Milestone
}

// MilestoneSpec: строка явного списка этапов для complex.
type MilestoneSpec struct {
	Title  string
	Amount valueobject.Money
}

type NewEscrowParams struct {
	ClientID       uuid.UUID
	ProfessionalID uuid.UUID
	SpecialistID   *uuid.UUID
	Title          string
	Description    string
	ProjectType    valueobject.ProjectType
	Amount         valueobject.Money
	Milestones     []MilestoneSpec
	MinAmount      valueobject.Money
	MaxAmount      valueobject.Money
}

// NewEscrow собирает escrow одной из трёх форм. Все этапы создаются в pending.
func NewEscrow(p NewEscrowParams, now time.Time) (*Escrow, error) {
	if err := validation.ValidateEscrowTitle(p.Title); err != nil {
		return nil, apperror.Validation("title", err.Error())
	}
	if err := validation.ValidateDescription(p.Description); err != nil {
		return nil, apperror.Validation("description", err.Error())
	}
	if p.ClientID == p.ProfessionalID {
		return nil, apperror.Validation("professional_id", "клиент не может быть исполнителем своего проекта")
	}
	if p.SpecialistID != nil && (*p.SpecialistID == p.ClientID || *p.SpecialistID == p.ProfessionalID) {
		return nil, apperror.Validation("specialist_id", "специалист должен быть отдельным участником")
	}

	e := &Escrow{
		ID:             uuid.New(),
		ClientID:       p.ClientID,
		ProfessionalID: p.ProfessionalID,
		SpecialistID:   p.SpecialistID,
		Title:          strings.TrimSpace(p.Title),
		Description:    p.Description,
		ProjectType:    p.ProjectType,
		Status:         valueobject.EscrowStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch p.ProjectType {
	case valueobject.ProjectTypeSimple:
		if len(p.Milestones) > 0 {
			return nil, apperror.Validation("milestones", "для простого проекта этапы не задаются")
		}
		e.Milestones = []*Milestone{newMilestone(e.ID, 0, e.Title, p.Amount, now)}
	case valueobject.ProjectTypeInstallment:
		if len(p.Milestones) > 0 {
			return nil, apperror.Validation("milestones", "для рассрочки этапы не задаются")
		}
		first, err := p.Amount.MultiplyRate(installmentShare)
		if err != nil {
			return nil, err
		}
		second, err := p.Amount.Sub(first)
		if err != nil {
			return nil, err
		}
		e.Milestones = []*Milestone{
			newMilestone(e.ID, 0, e.Title+" (1/2)", first, now),
			newMilestone(e.ID, 1, e.Title+" (2/2)", second, now),
		}
	case valueobject.ProjectTypeComplex:
		if len(p.Milestones) == 0 {
			return nil, apperror.Validation("milestones", "для сложного проекта нужен список этапов")
		}
		for i, spec := range p.Milestones {
			if err := validation.ValidateMilestoneTitle(spec.Title); err != nil {
				return nil, apperror.Validation("milestones["+strconv.Itoa(i)+"].title", err.Error())
			}
			title := strings.TrimSpace(spec.Title)
			if title == "" {
				title = e.Title + " #" + strconv.Itoa(i+1)
			}
			e.Milestones = append(e.Milestones, newMilestone(e.ID, i, title, spec.Amount, now))
		}
	default:
		return nil, apperror.Validation("project_type", "некорректный тип проекта")
	}

	total := valueobject.Money{}
	for _, m := range e.Milestones {
		if m.Amount.IsZero() {
			return nil, apperror.Validation("amount", "сумма этапа должна быть больше нуля")
		}
		var err error
		if total, err = total.Add(m.Amount); err != nil {
			return nil, err
		}
	}
	if total.Cmp(p.MinAmount) < 0 {
		return nil, apperror.Validation("amount", "сумма проекта меньше минимальной: "+p.MinAmount.String())
	}
	if total.Cmp(p.MaxAmount) > 0 {
		return nil, apperror.Validation("amount", "сумма проекта больше максимальной: "+p.MaxAmount.String())
	}
	e.TotalAmount = total
	return e, nil
}

// Milestone находит этап по id.
func (e *Escrow) Milestone(id uuid.UUID) (*Milestone, bool) {
	for _, m := range e.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// DeriveStatus вычисляет статус escrow из статусов этапов.
func (e *Escrow) DeriveStatus() valueobject.EscrowStatus {
	if e.CancelledAt != nil {
		return valueobject.EscrowStatusCancelled
	}
	if len(e.Milestones) == 0 {
		return valueobject.EscrowStatusPending
	}

	var pending, terminal, released, completed, held int
	for _, m := range e.Milestones {
		switch m.Status {
		case valueobject.MilestoneStatusDisputed:
			return valueobject.EscrowStatusDisputed
		case valueobject.MilestoneStatusPending:
			pending++
		case valueobject.MilestoneStatusHeld:
			held++
		case valueobject.MilestoneStatusCompleted:
			completed++
		case valueobject.MilestoneStatusReleased:
			released++
		}
		if m.Status.IsTerminal() {
			terminal++
		}
	}

	n := len(e.Milestones)
	switch {
	case terminal == n && released > 0:
		return valueobject.EscrowStatusReleased
	case terminal == n:
		return valueobject.EscrowStatusRefunded
	case pending == n:
		return valueobject.EscrowStatusPending
	case completed > 0 && held == 0:
		return valueobject.EscrowStatusPendingApproval
	case completed > 0:
		return valueobject.EscrowStatusInProgress
	}
	return valueobject.EscrowStatusFunded
}

// RefreshStatus сохраняет производный статус и ставит метку входа в него.
// Возвращает true, если статус изменился.
func (e *Escrow) RefreshStatus(now time.Time) bool {
	next := e.DeriveStatus()
	if next == e.Status {
		return false
	}
	e.Status = next
	e.UpdatedAt = now

	stamp := func(t **time.Time) {
		if *t == nil {
			*t = &now
		}
	}
	switch next {
	case valueobject.EscrowStatusFunded:
		stamp(&e.FundedAt)
	case valueobject.EscrowStatusInProgress:
		stamp(&e.InProgressAt)
	case valueobject.EscrowStatusPendingApproval:
		stamp(&e.PendingApprovalAt)
	case valueobject.EscrowStatusReleased:
		stamp(&e.ReleasedAt)
	case valueobject.EscrowStatusDisputed:
		stamp(&e.DisputedAt)
		for _, m := range e.Milestones {
			if m.Status == valueobject.MilestoneStatusDisputed && m.DisputeReason != nil {
				e.DisputeReason = m.DisputeReason
			}
		}
	case valueobject.EscrowStatusRefunded:
		stamp(&e.RefundedAt)
	}
	return true
}

// CheckFundable проверяет последовательное финансирование:
// этап k+1 нельзя оплатить, пока этап k не выплачен или не возвращён.
func (e *Escrow) CheckFundable(m *Milestone) error {
	if e.CancelledAt != nil {
		return apperror.State(string(valueobject.EscrowStatusCancelled), "escrow отменён")
	}
	for _, prev := range e.Milestones {
		if prev.Position < m.Position && !prev.Status.IsTerminal() {
			return apperror.State(string(prev.Status), "предыдущий этап ещё не закрыт")
		}
	}
	return nil
}

// Cancel закрывает escrow, в котором нет денег в работе. Неоплаченные этапы
// остаются pending и больше не принимают оплату.
func (e *Escrow) Cancel(now time.Time) error {
	if e.CancelledAt != nil {
		return apperror.State(string(e.Status), "escrow уже отменён")
	}
	open := 0
	for _, m := range e.Milestones {
		switch {
		case m.Status == valueobject.MilestoneStatusPending:
			open++
		case m.Status.IsTerminal():
		default:
			return apperror.State(string(m.Status), "по этапу идёт оплата или выплата")
		}
	}
	if open == 0 {
		return apperror.State(string(e.Status), "в escrow не осталось неоплаченных этапов")
	}
	e.CancelledAt = &now
	e.RefreshStatus(now)
	return nil
}

// NextFundable возвращает первый этап, ожидающий оплаты (или уже выставленный к оплате).
func (e *Escrow) NextFundable() (*Milestone, error) {
	for _, m := range e.Milestones {
		if m.Status == valueobject.MilestoneStatusPending || m.Status == valueobject.MilestoneStatusPaid {
			if err := e.CheckFundable(m); err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return nil, apperror.State(string(e.Status), "в проекте нет этапов для оплаты")
}

// GatingMilestone: текущий оплаченный этап, ожидающий решения клиента.
func (e *Escrow) GatingMilestone() (*Milestone, error) {
	for _, m := range e.Milestones {
		if m.Status == valueobject.MilestoneStatusHeld || m.Status == valueobject.MilestoneStatusCompleted {
			return m, nil
		}
	}
	return nil, apperror.State(string(e.Status), "нет этапа, ожидающего решения")
}

// HasHeldMilestone: хотя бы один этап удерживается процессором.
func (e *Escrow) HasHeldMilestone() bool {
	for _, m := range e.Milestones {
		if m.Status == valueobject.MilestoneStatusHeld {
			return true
		}
	}
	return false
}

// NeverFunded: деньги по проекту не выставлялись ни разу.
func (e *Escrow) NeverFunded() bool {
	for _, m := range e.Milestones {
		if m.Status != valueobject.MilestoneStatusPending || m.IntentID != nil || m.PaidAt != nil {
			return false
		}
	}
	return true
}

// HeldBalance: сумма этапов, деньги которых поступили и ещё не выплачены.
func (e *Escrow) HeldBalance() valueobject.Money {
	total := valueobject.Money{}
	for _, m := range e.Milestones {
		if m.Status.IsFunded() {
			total, _ = total.Add(m.Amount)
		}
	}
	return total
}

// Dispatcher: кто создаёт наряды: специалист, а без него подрядчик.
func (e *Escrow) Dispatcher() uuid.UUID {
	if e.SpecialistID != nil {
		return *e.SpecialistID
	}
	return e.ProfessionalID
}

// IsPartyOf: клиент, подрядчик или специалист проекта.
func (e *Escrow) IsPartyOf(userID uuid.UUID) bool {
	if userID == e.ClientID || userID == e.ProfessionalID {
		return true
	}
	return e.SpecialistID != nil && *e.SpecialistID == userID
}

// CanManageWork: подрядчик или специалист проекта.
func (e *Escrow) CanManageWork(userID uuid.UUID) bool {
	if userID == e.ProfessionalID {
		return true
	}
	return e.SpecialistID != nil && *e.SpecialistID == userID
}

// Clone копирует escrow вместе с этапами.
func (e *Escrow) Clone() *Escrow {
	c := *e
	c.Milestones = make([]*Milestone, len(e.Milestones))
	for i, m := range e.Milestones {
		c.Milestones[i] = m.Clone()
	}
	return &c
}
