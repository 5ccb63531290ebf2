package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/validation"
)

// WorkOrder: наряд внутри профинансированного escrow. Деньги не двигает.
type WorkOrder struct {
	ID             uuid.UUID
	EscrowID       uuid.UUID
	CreatedBy      uuid.UUID
	AssignedTo     uuid.UUID
	WorkType       string
	AssignedAmount valueobject.Money
	Description    string
	Status         valueobject.WorkOrderStatus

	CreatedAt   time.Time
	RespondedAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ApprovedAt  *time.Time
	UpdatedAt   time.Time
}

func NewWorkOrder(escrowID, createdBy, assignee uuid.UUID, workType string, amount valueobject.Money, description string, now time.Time) (*WorkOrder, error) {
	if err := validation.ValidateWorkType(workType); err != nil {
		return nil, apperror.Validation("work_type", err.Error())
	}
	if err := validation.ValidateDescription(description); err != nil {
		return nil, apperror.Validation("description", err.Error())
	}
	workType = strings.TrimSpace(workType)
	if assignee == uuid.Nil {
		return nil, apperror.Validation("assignee_id", "исполнитель обязателен")
	}

	return &WorkOrder{
		ID:             uuid.New(),
		EscrowID:       escrowID,
		CreatedBy:      createdBy,
		AssignedTo:     assignee,
		WorkType:       workType,
		AssignedAmount: amount,
		Description:    description,
		Status:         valueobject.WorkOrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (w *WorkOrder) move(next valueobject.WorkOrderStatus, message string, now time.Time) error {
	if !w.Status.CanTransitionTo(next) {
		return apperror.State(string(w.Status), message)
	}
	w.Status = next
	w.UpdatedAt = now
	return nil
}

// Respond: ответ исполнителя на наряд.
func (w *WorkOrder) Respond(accept bool, now time.Time) error {
	next := valueobject.WorkOrderStatusRejected
	if accept {
		next = valueobject.WorkOrderStatusAccepted
	}
	if err := w.move(next, "на наряд уже ответили", now); err != nil {
		return err
	}
	w.RespondedAt = &now
	return nil
}

func (w *WorkOrder) Start(now time.Time) error {
	if err := w.move(valueobject.WorkOrderStatusInProgress, "наряд нельзя начать в текущем статусе", now); err != nil {
		return err
	}
	w.StartedAt = &now
	return nil
}

func (w *WorkOrder) Complete(now time.Time) error {
	if err := w.move(valueobject.WorkOrderStatusCompleted, "наряд нельзя завершить в текущем статусе", now); err != nil {
		return err
	}
	w.CompletedAt = &now
	return nil
}

func (w *WorkOrder) Approve(now time.Time) error {
	if err := w.move(valueobject.WorkOrderStatusApproved, "подтвердить можно только завершённый наряд", now); err != nil {
		return err
	}
	w.ApprovedAt = &now
	return nil
}

// WorkStatus: производный статус работ по проекту: in_progress после первого принятого наряда.
func WorkStatus(orders []*WorkOrder) string {
	for _, w := range orders {
		if w.Status.IsEngaged() {
			return "in_progress"
		}
	}
	if len(orders) > 0 {
		return "dispatched"
	}
	return "none"
}
