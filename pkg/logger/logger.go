// Package logger builds the zap logger shared by every gojotx component.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level ("debug", "info", "warn", "error").
	// Empty means info.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// OutputFile is a path, or "stdout"/"stderr".
	OutputFile string `yaml:"output_file"`
}

// Validate reports a level or format the logger cannot honor.
func (c Config) Validate() error {
	if c.Level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(c.Level)); err != nil {
			return fmt.Errorf("logger level %q: %w", c.Level, err)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
		return nil
	default:
		return fmt.Errorf("logger format %q: want json or console", c.Format)
	}
}

// New creates a logger from config. The returned close function syncs the
// logger and closes the output file, if any.
func New(config Config) (*zap.Logger, func() error, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if config.Level != "" {
		if err := level.UnmarshalText([]byte(config.Level)); err != nil {
			return nil, nil, err
		}
	}

	out, closeOut, err := openOutput(config.OutputFile)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewCore(encoder(config.Format), out, level)
	lg := zap.New(core, zap.AddCaller(), zap.Fields(zap.String("service", "gojotx")))

	closeFn := func() error {
		// syncing stdout/stderr fails with EINVAL on some platforms
		_ = lg.Sync()
		return closeOut()
	}
	return lg, closeFn, nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func openOutput(outputFile string) (zapcore.WriteSyncer, func() error, error) {
	noClose := func() error { return nil }
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), noClose, nil
	case "stderr":
		return zapcore.Lock(os.Stderr), noClose, nil
	default:
		f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.Lock(f), f.Close, nil
	}
}
