package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger builds the process logger. Every entry carries the binary's
// service name so server and terminal logs can share one sink.
func InitLogger(service, env string) error {
	built, err := loggerConfig(service, env).Build()
	if err != nil {
		return err
	}

	logger = built.Named(service)
	zap.ReplaceGlobals(logger)
	return nil
}

func loggerConfig(service, env string) zap.Config {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.InitialFields = map[string]interface{}{
		"service": service,
		"env":     env,
	}
	return config
}

// GetLogger returns the process logger, or a development logger before InitLogger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
