package otel

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 構造化ロガー（zerologでJSON出力し、トレースID/スパンIDを付与する）
type Logger struct {
	tracer trace.Tracer
	zl     zerolog.Logger
}

// NewLogger 新しいLoggerを作成（標準エラー出力、infoレベル）
func NewLogger(tracer trace.Tracer) *Logger {
	return NewLoggerWithWriter(tracer, os.Stderr, "info")
}

// NewLoggerWithWriter 出力先とレベルを指定してLoggerを作成
func NewLoggerWithWriter(tracer trace.Tracer, w io.Writer, level string) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(level))
	return &Logger{
		tracer: tracer,
		zl:     zl,
	}
}

// ParseLevel ログレベル文字列をzerologのレベルに変換（不明な値はinfo）
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// LogLevel ログレベル
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log ログを出力
func (l *Logger) Log(ctx context.Context, level LogLevel, message string, fields map[string]interface{}) {
	l.log(ctx, level, message, nil, fields)
}

func (l *Logger) log(ctx context.Context, level LogLevel, message string, err error, fields map[string]interface{}) {
	event := l.zl.WithLevel(level.zerolog())
	if event == nil {
		return
	}

	// トレースIDとSpanIDを取得
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event = event.
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String())
	}
	if err != nil {
		event = event.Err(err)
	}
	if len(fields) > 0 {
		event = event.Interface("fields", fields)
	}
	event.Msg(message)
}

// Debug Debugレベルのログを出力
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LogLevelDebug, message, nil, fields)
}

// Info Infoレベルのログを出力
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LogLevelInfo, message, nil, fields)
}

// Warn Warnレベルのログを出力
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LogLevelWarn, message, nil, fields)
}

// Error Errorレベルのログを出力
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	l.log(ctx, LogLevelError, message, err, fields)
}
