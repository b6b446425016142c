// Package logging builds the zap logger shared by every coordinator
// subsystem. It generalizes the teacher's single "tcc/log" import into a
// constructible logger so the HTTP surface, the engine, the driver and the
// recovery scanner all log through the same sink with the same fields.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the coordinator logs.
type Config struct {
	// Level is one of debug, info, warn, error. Empty defaults to info.
	Level string
	// FilePath, when set, routes logs through a rotating file sink
	// instead of (in addition to, if Stderr is true) stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stderr     bool
}

// New builds a *zap.Logger from cfg. A zero Config produces a reasonable
// development-friendly logger writing JSON to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if cfg.Stderr || cfg.FilePath == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
