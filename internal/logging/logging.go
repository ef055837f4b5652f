// Package logging wires the structured logger onto a zap core.
package logging

import (
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
)

// New returns a logger that forwards every message to the given zap logger,
// mapping levels and carrying fields through as zap fields.
func New(zl *zap.Logger) ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		fields := make([]zap.Field, 0, len(msg.Fields)+1)
		for key, value := range msg.Fields {
			fields = append(fields, zap.Any(key, value))
		}
		if msg.Err != nil {
			fields = append(fields, zap.Error(msg.Err))
		}

		switch strings.ToLower(fmt.Sprint(msg.Level)) {
		case "debug":
			zl.Debug(msg.Message, fields...)
		case "warn", "warning":
			zl.Warn(msg.Message, fields...)
		case "error":
			zl.Error(msg.Message, fields...)
		case "fatal":
			zl.Fatal(msg.Message, fields...)
		default:
			zl.Info(msg.Message, fields...)
		}
	})
}
