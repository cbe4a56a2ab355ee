package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// LogConfig — параметры логирования.
type LogConfig struct {
	// Level — DEBUG, INFO, WARN, ERROR (default: INFO).
	Level string

	// Format — "json" (default) или "text".
	Format string

	// Service — имя сервиса, добавляется в каждую запись.
	Service string
}

// ParseLevel переводит строковый уровень в zapcore.Level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetupLogger инициализирует глобальный slog.Logger поверх zap core.
//
// Код пишет в slog; кодирование, уровни и буферизация — на стороне zap.
// Возвращаемая функция сбрасывает буфер zap, её нужно вызвать при выходе.
func SetupLogger(cfg LogConfig) (*slog.Logger, func()) {
	level := ParseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(level))

	handler := zapslog.NewHandler(core, zapslog.WithCaller(level == zapcore.DebugLevel))
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)

	return logger, func() { _ = core.Sync() }
}

// NopLogger возвращает логгер, который ничего не пишет. Для тестов.
func NopLogger() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}

type ctxKey string

// CtxLogger — ключ логгера в контексте.
const CtxLogger ctxKey = "logger"

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRunID возвращает логгер с добавленным run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithInvocation возвращает логгер с полями вызова шага.
func WithInvocation(logger *slog.Logger, runID, invocationID, step string) *slog.Logger {
	return logger.With("run_id", runID, "invocation_id", invocationID, "step", step)
}
