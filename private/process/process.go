// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package process bootstraps the service binaries: logger construction
// from LOG_LEVEL and a root context that is cancelled on SIGINT/SIGTERM.
package process

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Error is the class of process bootstrap errors.
var Error = errs.Class("process")

// NewLogger builds the production logger at the named level. The level
// matches the LOG_LEVEL environment values (DEBUG, INFO, WARN, ERROR).
func NewLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, Error.New("unknown log level %q", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsed)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return logger, nil
}

// Ctx returns a root context cancelled by SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
