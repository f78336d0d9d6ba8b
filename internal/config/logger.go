package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a development logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger.level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Setup loads the config at fpath and builds the named root logger every
// command starts from.
func Setup(fpath, name string) (*Config, *zap.Logger, error) {
	c, err := NewFromFile(fpath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := NewLogger(c.Logger.Level)
	if err != nil {
		return nil, nil, err
	}
	return c, logger.Named(name), nil
}
