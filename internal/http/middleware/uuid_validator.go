package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// UUIDValidator проверяет, что параметр пути: валидный UUID.
// Использование: router.GET("/escrow/:id", UUIDValidator("id"), handler.Get)
func UUIDValidator(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := uuid.Parse(c.Param(paramName)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    apperror.ErrCodeValidation,
					"message": "параметр " + paramName + " должен быть валидным UUID",
					"details": gin.H{paramName: "invalid uuid"},
				},
			})
			return
		}
		c.Next()
	}
}
