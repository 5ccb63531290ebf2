package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/homepro-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
)

// PayMilestone обрабатывает POST /api/milestones/:id/pay.
func (h *EscrowHandler) PayMilestone(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	milestoneID, ok := parseIDParam(c, "id", "некорректный ID этапа")
	if !ok {
		return
	}
	key, ok := requestID(c)
	if !ok {
		return
	}

	res, err := h.escrows.FundMilestone(c.Request.Context(), actor, milestoneID, key)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToFundResponse(res))
}

// MarkCompleted обрабатывает POST /api/milestones/:id/mark-completed.
func (h *EscrowHandler) MarkCompleted(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	milestoneID, ok := parseIDParam(c, "id", "некорректный ID этапа")
	if !ok {
		return
	}

	out, err := h.escrows.MarkCompleted(c.Request.Context(), actor, milestoneID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSettlementResponse(out))
}

// ApproveMilestone обрабатывает POST /api/milestones/:id/approve.
func (h *EscrowHandler) ApproveMilestone(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	milestoneID, ok := parseIDParam(c, "id", "некорректный ID этапа")
	if !ok {
		return
	}

	out, err := h.escrows.Approve(c.Request.Context(), actor, milestoneID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSettlementResponse(out))
}

// Dispute обрабатывает POST /api/milestones/:id/dispute.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	milestoneID, ok := parseIDParam(c, "id", "некорректный ID этапа")
	if !ok {
		return
	}
	var req dto.DisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	out, err := h.escrows.Dispute(c.Request.Context(), actor, milestoneID, req.Reason)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSettlementResponse(out))
}

// Resolve обрабатывает POST /api/milestones/:id/resolve (только администратор).
func (h *EscrowHandler) Resolve(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	milestoneID, ok := parseIDParam(c, "id", "некорректный ID этапа")
	if !ok {
		return
	}
	var req dto.ResolveRequest
	if !bindJSON(c, &req) {
		return
	}

	out, err := h.escrows.Resolve(c.Request.Context(), actor, milestoneID, req.Action)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSettlementResponse(out))
}
