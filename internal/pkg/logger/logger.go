// Package logger 提供全局 zerolog 日志器，并在有 span 的上下文中自动附带 trace 信息。
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是进程级的基础日志器
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 按服务名和日志级别重建全局日志器
func Init(serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	Logger = zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// SetOutput 替换输出目标 (测试中用于捕获日志)
func SetOutput(w io.Writer) {
	Logger = Logger.Output(w)
}

// Ctx 返回带有 trace_id / span_id 的日志器
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}

// WithContext 把日志器挂到 context 上，供 zerolog.Ctx 读取
func WithContext(ctx context.Context) context.Context {
	return Ctx(ctx).WithContext(ctx)
}

func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }
func Debug() *zerolog.Event { return Logger.Debug() }
