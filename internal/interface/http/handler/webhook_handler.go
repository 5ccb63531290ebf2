package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/reconcile"
)

const (
	SignatureHeader    = "Stripe-Signature"
	maxWebhookBodySize = 64 << 10
)

type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (gateway.Event, error)
}

type EventHandler interface {
	Handle(ctx context.Context, evt gateway.Event) (reconcile.Outcome, error)
}

// WebhookHandler принимает события процессора. Авторизация: только подпись.
type WebhookHandler struct {
	verifier WebhookVerifier
	handler  EventHandler
	log      logrus.FieldLogger
}

func NewWebhookHandler(verifier WebhookVerifier, handler EventHandler, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, handler: handler, log: log}
}

// Handle обрабатывает POST /api/webhook/stripe. Ошибка обработки отдаёт 500,
// чтобы процессор доставил событие повторно; дубликаты отсекает сверщик.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		response.BadRequest(c, "body", "не удалось прочитать тело запроса")
		return
	}

	evt, err := h.verifier.VerifyWebhook(payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			response.BadRequest(c, SignatureHeader, "подпись не совпала")
			return
		}
		h.log.WithError(err).Warn("Не удалось разобрать событие процессора")
		response.BadRequest(c, "body", "некорректное событие")
		return
	}

	outcome, err := h.handler.Handle(c.Request.Context(), evt)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"event_id":   evt.ID,
			"event_type": evt.RawType,
		}).Error("Событие процессора не обработано")
		response.Error(c, h.log, apperror.Wrap(err, apperror.ErrCodeInternal, "событие не обработано"))
		return
	}

	response.Success(c, gin.H{"event_id": evt.ID, "outcome": outcome})
}
