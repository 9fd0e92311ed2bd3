package main

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/rafata1/order-saga-outbox/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the logr.Logger handed to every component. Log.Level is
// the logr verbosity, so V(1) messages need a level of 1 or more.
func newLogger(cfg config.LogConfig) (logr.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-cfg.Level))

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zapLogger), func() { _ = zapLogger.Sync() }, nil
}
