package routes

import (
	"net/http"
	"time"

	"github.com/damoang/refund-reconciler/internal/middleware"
	"github.com/damoang/refund-reconciler/internal/refund/handler"
	"github.com/damoang/refund-reconciler/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup 운영 엔드포인트와 환불 관리자 API 등록
func Setup(router *gin.Engine, refundHandler *handler.RefundHandler, jwtManager *jwt.Manager) {
	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "refund-reconciler",
			"time":    time.Now().Unix(),
		})
	})

	// 환불 API는 항상 관리자 인증 필요
	refunds := router.Group("/api/v1/admin/refunds", middleware.JWTAuth(jwtManager), middleware.RequireAdmin())
	refunds.POST("", refundHandler.CreateRefund)
	refunds.GET("/requests/:id/attempts", refundHandler.ListAttempts)
	refunds.GET("/queue/:id", refundHandler.GetQueueEntry)
	refunds.POST("/queue/:id/replay", refundHandler.ReplayQueueEntry)
	refunds.GET("/alerts", refundHandler.ListAlerts)
}
