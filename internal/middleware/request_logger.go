package middleware

import (
	"time"

	"github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// 헬스체크/스크레이프는 로그 생략
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestLogger X-Request-ID를 전파하고 요청별 구조화 로그 기록
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		if quietPaths[c.Request.URL.Path] {
			return
		}

		status := c.Writer.Status()
		log := logger.WithRequestID(requestID)
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("user_id", GetUserID(c)).
			Bool("idempotency_key", c.GetHeader("Idempotency-Key") != "").
			Msg("request")
	}
}

// GetRequestID 현재 요청 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
