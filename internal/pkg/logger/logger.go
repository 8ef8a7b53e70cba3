// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base zerolog.Logger

func init() {
	// 默认输出到 stderr 的 JSON 日志；在 Init 之前也能安全使用
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init 初始化全局日志器，注入服务名等公共字段。
// 应该在每个服务的组装根（main 函数）中最先调用。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个携带当前链路信息的日志器。
// 如果 ctx 中存在有效的 Span，trace_id/span_id 会被自动附加到每条日志上，
// 这样日志就可以和 Jaeger 中的链路对齐。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := base
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}
