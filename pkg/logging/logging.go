// Package logging builds the process-wide zap logger from configuration.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of: debug, info, warn, error. Defaults to info.
	Level string `json:"level" yaml:"level"`

	// Format is "json" or "console". Defaults to json.
	Format string `json:"format" yaml:"format"`
}

// New creates a zap logger from the given config.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("logging: unknown level %q", cfg.Level)
		}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// Nop returns a logger that discards everything. Used in tests and as a
// default when callers pass nil.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l if non-nil, otherwise a no-op logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
