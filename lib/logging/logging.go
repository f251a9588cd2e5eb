// Package logging initialises the zap logger shared by the services.
package logging

import (
	"errors"
	"fmt"
	"log"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init builds a production logger at the given level ("debug", "info", "warn", "error"), installs it as the global
// zap logger and returns a cleanup function that flushes it.
func Init(level string) (*zap.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot build logger: %w", err)
	}

	restore := zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil && !isIgnorableSyncError(err) {
			log.Printf("Failed to sync logger: %v", err)
		}
		restore()
	}

	return logger, cleanup, nil
}

// stdout and stderr cannot be synced on some platforms.
func isIgnorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}
