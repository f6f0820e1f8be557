package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitStructured 전에는 출력하지 않음
var zlog = zerolog.Nop()

// InitStructured initializes the structured zerolog logger.
// local/dev는 콘솔 출력 + debug, 그 외는 JSON + info
func InitStructured(env string) {
	var w io.Writer = os.Stdout
	level := zerolog.InfoLevel

	switch env {
	case "local", "development", "dev":
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zlog = zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "refund-reconciler").
		Str("env", env).
		Logger()
}

// GetLogger returns the global zerolog logger
func GetLogger() *zerolog.Logger {
	return &zlog
}

// WithRequestID HTTP 요청 ID가 붙은 로거
func WithRequestID(requestID string) zerolog.Logger {
	return zlog.With().Str("request_id", requestID).Logger()
}

// WithRefund 환불 요청 ID와 게이트웨이 참조 ID가 붙은 로거
func WithRefund(refundRequestID, gatewayRef string) zerolog.Logger {
	return zlog.With().
		Str("refund_request_id", refundRequestID).
		Str("gateway_ref", gatewayRef).
		Logger()
}
