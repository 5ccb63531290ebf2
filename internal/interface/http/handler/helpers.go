package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/http/middleware"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/response"
)

// IdempotencyKeyHeader: клиентский id запроса на оплату.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

func getActor(c *gin.Context) (entity.Actor, bool) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "требуется авторизация")
		return nil, false
	}
	return actor, true
}

func parseIDParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, name, message)
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "body", "некорректные данные запроса: "+err.Error())
		return false
	}
	return true
}

// requestID читает Idempotency-Key; пустой заголовок: ключа нет.
func requestID(c *gin.Context) (*string, bool) {
	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		response.BadRequest(c, "Idempotency-Key", "слишком длинный ключ идемпотентности")
		return nil, false
	}
	return &key, true
}
