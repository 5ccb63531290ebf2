package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/payments"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/subscription"
)

// AccountHandler: подключение выплат и тарифы текущего пользователя.
type AccountHandler struct {
	onboarding    *payments.Onboarding
	subscriptions *subscription.Engine
	log           logrus.FieldLogger
}

func NewAccountHandler(onboarding *payments.Onboarding, subscriptions *subscription.Engine, log logrus.FieldLogger) *AccountHandler {
	return &AccountHandler{onboarding: onboarding, subscriptions: subscriptions, log: log}
}

// Connect обрабатывает POST /api/payments/connect.
func (h *AccountHandler) Connect(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	link, err := h.onboarding.Connect(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, link)
}

// MySubscriptions обрабатывает GET /api/subscriptions/me.
func (h *AccountHandler) MySubscriptions(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	summary, err := h.subscriptions.Summary(c.Request.Context(), actor.ID())
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.Success(c, dto.ToSubscriptionSummary(summary))
}
