package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/dispatch"
)

type WorkOrderHandler struct {
	dispatch *dispatch.Engine
	log      logrus.FieldLogger
}

func NewWorkOrderHandler(d *dispatch.Engine, log logrus.FieldLogger) *WorkOrderHandler {
	return &WorkOrderHandler{dispatch: d, log: log}
}

// Create обрабатывает POST /api/escrow/:id/work-orders/create.
func (h *WorkOrderHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}
	var req dto.CreateWorkOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	wo, err := h.dispatch.CreateWorkOrder(c.Request.Context(), actor, escrowID, req.ToInput())
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Created(c, dto.ToWorkOrderResponse(wo))
}

// ListForEscrow обрабатывает GET /api/escrow/:id/work-orders.
func (h *WorkOrderHandler) ListForEscrow(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	escrowID, ok := parseIDParam(c, "id", "некорректный ID escrow")
	if !ok {
		return
	}

	orders, err := h.dispatch.ListForEscrow(c.Request.Context(), actor, escrowID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToWorkOrderResponses(orders))
}

// ListMine обрабатывает GET /api/work-orders/my.
func (h *WorkOrderHandler) ListMine(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	orders, err := h.dispatch.ListForAssignee(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToWorkOrderResponses(orders))
}

// Respond обрабатывает POST /api/crew/job-response/:wo_id.
func (h *WorkOrderHandler) Respond(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workOrderID, ok := parseIDParam(c, "wo_id", "некорректный ID наряда")
	if !ok {
		return
	}
	var req dto.JobResponseRequest
	if !bindJSON(c, &req) {
		return
	}

	wo, err := h.dispatch.Respond(c.Request.Context(), actor, workOrderID, req.Accept())
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToWorkOrderResponse(wo))
}

// Start обрабатывает POST /api/work-orders/:id/start.
func (h *WorkOrderHandler) Start(c *gin.Context) {
	h.step(c, h.dispatch.MarkInProgress)
}

// Complete обрабатывает POST /api/work-orders/:id/complete.
func (h *WorkOrderHandler) Complete(c *gin.Context) {
	h.step(c, h.dispatch.MarkCompleted)
}

// Approve обрабатывает POST /api/work-orders/:id/approve.
func (h *WorkOrderHandler) Approve(c *gin.Context) {
	h.step(c, h.dispatch.Approve)
}

func (h *WorkOrderHandler) step(c *gin.Context, fn dispatch.StepFunc) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workOrderID, ok := parseIDParam(c, "id", "некорректный ID наряда")
	if !ok {
		return
	}

	wo, err := fn(c.Request.Context(), actor, workOrderID)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToWorkOrderResponse(wo))
}
