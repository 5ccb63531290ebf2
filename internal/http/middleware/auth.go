package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/service"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
)

// Context ключи для gin.Context.
const (
	ContextUserIDKey = "userID"
	ContextActorKey  = "actor"
)

// Authenticator проверяет токен и превращает subject в Actor.
type Authenticator struct {
	tokens   *service.TokenManager
	resolver identity.Resolver
	log      logrus.FieldLogger
}

func NewAuthenticator(tokens *service.TokenManager, resolver identity.Resolver, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{tokens: tokens, resolver: resolver, log: log}
}

// Middleware требует заголовок Authorization: Bearer <token>.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			unauthorized(c, "требуется авторизация")
			return
		}
		a.authenticate(c, strings.TrimPrefix(auth, "Bearer "))
	}
}

// QueryMiddleware берёт токен из ?token=: браузер не шлёт заголовки при открытии WebSocket.
func (a *Authenticator) QueryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			unauthorized(c, "требуется авторизация")
			return
		}
		a.authenticate(c, raw)
	}
}

func (a *Authenticator) authenticate(c *gin.Context, raw string) {
	userID, _, err := a.tokens.ParseAccess(raw)
	if err != nil || userID == uuid.Nil {
		unauthorized(c, "токен невалиден")
		return
	}

	actor, err := a.resolver.Resolve(c.Request.Context(), userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			unauthorized(c, "пользователь не найден")
			return
		}
		a.log.WithError(err).WithField("user_id", userID).Error("Не удалось определить пользователя")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": apperror.ErrCodeInternal, "message": "внутренняя ошибка сервера"},
		})
		return
	}

	c.Set(ContextUserIDKey, userID)
	c.Set(ContextActorKey, actor)
	c.Next()
}

// Actor достаёт пользователя, положенного Authenticator.
func Actor(c *gin.Context) (entity.Actor, bool) {
	v, ok := c.Get(ContextActorKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(entity.Actor)
	return actor, ok
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": apperror.ErrCodeUnauthorized, "message": message},
	})
}
