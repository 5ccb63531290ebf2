package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow"
)

// EscrowHandler обслуживает escrow и его этапы.
type EscrowHandler struct {
	escrows *escrow.Engine
	log     logrus.FieldLogger
}

func NewEscrowHandler(escrows *escrow.Engine, log logrus.FieldLogger) *EscrowHandler {
	return &EscrowHandler{escrows: escrows, log: log}
}

// Create обрабатывает POST /api/escrow/create.
func (h *EscrowHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	var req dto.CreateEscrowRequest
	if !bindJSON(c, &req) {
		return
	}

	esc, err := h.escrows.Create(c.Request.Context(), actor, req.ToInput())
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Created(c, dto.ToEscrowResponse(esc))
}

// Get обрабатывает GET /api/escrow/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}

	details, err := h.escrows.Get(c.Request.Context(), actor, escrowID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToEscrowDetailsResponse(details))
}

// Delete обрабатывает DELETE /api/escrow/:id.
func (h *EscrowHandler) Delete(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}

	if err := h.escrows.Delete(c.Request.Context(), actor, escrowID); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, gin.H{"id": escrowID, "deleted": true})
}

// Cancel обрабатывает POST /api/escrow/:id/cancel.
func (h *EscrowHandler) Cancel(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}

	esc, err := h.escrows.Cancel(c.Request.Context(), actor, escrowID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToEscrowResponse(esc))
}

// Fund обрабатывает POST /api/escrow/:id/fund: выставляет к оплате первый незакрытый этап.
func (h *EscrowHandler) Fund(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}
	key, ok := requestID(c)
	if !ok {
		return
	}

	res, err := h.escrows.FundNext(c.Request.Context(), actor, escrowID, key)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToFundResponse(res))
}

// ConfirmFunding обрабатывает POST /api/escrow/:id/confirm-funding.
func (h *EscrowHandler) ConfirmFunding(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}

	esc, err := h.escrows.ConfirmFunding(c.Request.Context(), actor, escrowID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToEscrowResponse(esc))
}

// Approve обрабатывает POST /api/escrow/:id/approve с action approve|dispute.
func (h *EscrowHandler) Approve(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}
	var req dto.ApproveEscrowRequest
	if !bindJSON(c, &req) {
		return
	}

	out, err := h.escrows.ApproveEscrow(c.Request.Context(), actor, escrowID, req.Action, req.Reason)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSettlementResponse(out))
}
