package util

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var gLogger atomic.Pointer[zap.Logger]

func init() {
	gLogger.Store(zap.NewNop())
	if err := InitLogger("info"); err != nil {
		panic(err)
	}
}

// InitLogger replaces the process logger. level is one of the zap
// level names: debug, info, warn, error.
func InitLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}

func SetLogger(logger *zap.Logger) {
	gLogger.Store(logger)
}

func Logger() *zap.Logger {
	return gLogger.Load()
}

func Debug(msg string, fields ...zap.Field) {
	gLogger.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	gLogger.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	gLogger.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	gLogger.Load().Error(msg, fields...)
}

func Sync() {
	_ = gLogger.Load().Sync()
}
