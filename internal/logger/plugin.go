// Package logger is an Endure plugin handing out named zap loggers.
package logger

import (
	"strings"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const PluginName string = "logs"

type Configurer interface {
	// UnmarshalKey takes a single key and unmarshal it into a Struct.
	UnmarshalKey(name string, out any) error
	// Has checks if config section exists.
	Has(name string) bool
}

type Plugin struct {
	base *zap.Logger
}

func (p *Plugin) Init(cfg Configurer) error {
	const op = errors.Op("logger_plugin_init")

	level := "info"
	if cfg.Has("log_level") {
		if err := cfg.UnmarshalKey("log_level", &level); err != nil {
			return errors.E(op, err)
		}
	}

	base, err := build(level)
	if err != nil {
		return errors.E(op, err)
	}

	p.base = base
	return nil
}

// NamedLogger returns a logger scoped to the calling plugin.
func (p *Plugin) NamedLogger(name string) *zap.Logger {
	return p.base.Named(name)
}

func (p *Plugin) Name() string {
	return PluginName
}

func build(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "silent" {
		return zap.NewNop(), nil
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	return cfg.Build()
}
