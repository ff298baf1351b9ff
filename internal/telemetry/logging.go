// Package telemetry wires up structured logging and tracing, grounded on
// common.SetupLogger's production JSON encoder and
// mchenetz-SPLAI/internal/observability's tracer-provider setup.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap.Logger: a development console encoder when dev is
// true, otherwise the teacher's production JSON encoder with ISO8601
// timestamps.
func NewLogger(level string, dev bool) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Sugared adapts a zap.Logger to the narrow Warn/Info(msg, fields ...any)
// surface collaborator packages (e.g. internal/datamanager) accept so they
// are not forced to import zap themselves.
type Sugared struct {
	s *zap.SugaredLogger
}

// NewSugared wraps log.
func NewSugared(log *zap.Logger) Sugared {
	return Sugared{s: log.Sugar()}
}

func (s Sugared) Warn(msg string, fields ...any) { s.s.Warnw(msg, fields...) }
func (s Sugared) Info(msg string, fields ...any) { s.s.Infow(msg, fields...) }
