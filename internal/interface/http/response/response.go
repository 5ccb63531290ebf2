// Package response: единственное место, где ошибки движка превращаются в HTTP.
package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// RetryAfterSeconds: подсказка клиенту при недоступности процессора.
const RetryAfterSeconds = 5

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Error отвечает кодом AppError; всё остальное: 500 без подробностей.
func Error(c *gin.Context, log logrus.FieldLogger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		log.WithError(err).WithField("path", c.FullPath()).Error("Необработанная ошибка")
		c.JSON(http.StatusInternalServerError, Response{
			Error: &ErrorInfo{Code: string(apperror.ErrCodeInternal), Message: "внутренняя ошибка сервера"},
		})
		return
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	switch {
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
		log.WithError(err).Warn("Процессор временно недоступен")
	case status >= http.StatusInternalServerError:
		log.WithError(err).WithField("path", c.FullPath()).Error("Ошибка запроса")
	}

	message := appErr.Message
	if appErr.Code == apperror.ErrCodeDatabaseError || appErr.Code == apperror.ErrCodeInternal {
		message = "внутренняя ошибка сервера"
	}
	c.JSON(status, Response{
		Error: &ErrorInfo{Code: string(appErr.Code), Message: message, Details: appErr.Details},
	})
}

func BadRequest(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Error: &ErrorInfo{
			Code:    string(apperror.ErrCodeValidation),
			Message: message,
			Details: map[string]string{field: message},
		},
	})
}

func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Error: &ErrorInfo{Code: string(apperror.ErrCodeUnauthorized), Message: message},
	})
}
