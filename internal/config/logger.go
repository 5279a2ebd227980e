package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger from the log settings
func NewLogger(c LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
