// Package logging configures the zap sink shared by every package in
// this repository, the way the teacher's logger package configured a
// single package-level *zap.Logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON-encoded, ISO8601-timestamped logger writing to
// logFile at the given level, matching the teacher's InitLogger exactly
// except that it returns the logger instead of assigning a package
// global, so each Autobase instance can carry its own.
func New(logFile string, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", level, err)
	}

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", logFile, err)
	}

	writeSyncer := zapcore.AddSync(file)
	encoder := zapcore.NewJSONEncoder(cfg)
	core := zapcore.NewCore(encoder, writeSyncer, atom)
	return zap.New(core, zap.AddCaller()), nil
}
