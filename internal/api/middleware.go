package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/annel0/voxelstore/internal/auth"
	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// writeMiddleware пропускает только запросы с токеном, разрешающим запись
func (rs *RestServer) writeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.auth == nil {
			abort(c, http.StatusForbidden, "Запись через API отключена")
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}

		claims, err := rs.auth.Validate(parts[1])
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				rs.logger.Warn("Ошибка проверки токена: %v", err)
			}
			abort(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}
		if !claims.CanWrite {
			abort(c, http.StatusForbidden, "Недостаточно прав доступа")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{
		Success: false,
		Message: message,
	})
}
