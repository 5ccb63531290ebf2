package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/dispatch"
)

type CreateWorkOrderRequest struct {
	AssigneeID     uuid.UUID         `json:"assignee_id" binding:"required"`
	WorkType       string            `json:"work_type" binding:"required,max=100"`
	AssignedAmount valueobject.Money `json:"assigned_amount"`
	Description    string            `json:"description" binding:"max=5000"`
}

func (r CreateWorkOrderRequest) ToInput() dispatch.CreateInput {
	return dispatch.CreateInput{
		AssigneeID:  r.AssigneeID,
		WorkType:    r.WorkType,
		Amount:      r.AssignedAmount,
		Description: r.Description,
	}
}

type JobResponseRequest struct {
	Action string `json:"action" binding:"required,oneof=accept reject"`
}

func (r JobResponseRequest) Accept() bool { return r.Action == "accept" }

type WorkOrderResponse struct {
	ID             uuid.UUID         `json:"id"`
	EscrowID       uuid.UUID         `json:"escrow_id"`
	CreatedBy      uuid.UUID         `json:"created_by"`
	AssignedTo     uuid.UUID         `json:"assigned_to"`
	WorkType       string            `json:"work_type"`
	AssignedAmount valueobject.Money `json:"assigned_amount"`
	Description    string            `json:"description"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	RespondedAt    *time.Time        `json:"responded_at"`
	StartedAt      *time.Time        `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at"`
	ApprovedAt     *time.Time        `json:"approved_at"`
}

func ToWorkOrderResponse(w *entity.WorkOrder) WorkOrderResponse {
	return WorkOrderResponse{
		ID:             w.ID,
		EscrowID:       w.EscrowID,
		CreatedBy:      w.CreatedBy,
		AssignedTo:     w.AssignedTo,
		WorkType:       w.WorkType,
		AssignedAmount: w.AssignedAmount,
		Description:    w.Description,
		Status:         string(w.Status),
		CreatedAt:      w.CreatedAt,
		RespondedAt:    w.RespondedAt,
		StartedAt:      w.StartedAt,
		CompletedAt:    w.CompletedAt,
		ApprovedAt:     w.ApprovedAt,
	}
}

func ToWorkOrderResponses(orders []*entity.WorkOrder) []WorkOrderResponse {
	out := make([]WorkOrderResponse, 0, len(orders))
	for _, w := range orders {
		out = append(out, ToWorkOrderResponse(w))
	}
	return out
}
