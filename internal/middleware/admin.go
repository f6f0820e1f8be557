package middleware

import (
	"net/http"

	"github.com/damoang/refund-reconciler/internal/common"
	"github.com/gin-gonic/gin"
)

// AdminLevel 환불 API 최소 회원 레벨
const AdminLevel = 10

// RequireAdmin 인증된 사용자가 관리자 레벨인지 확인. 사용자 ID가 없으면 거부
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserID(c) == "" || GetUserLevel(c) < AdminLevel {
			common.ErrorResponse(c, http.StatusForbidden, "관리자 권한이 필요합니다", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
