// Package logger builds the process zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// New builds a logger writing to out and, when configured, to a rotated
// file. The returned closer releases the file; it is a no-op otherwise.
func New(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	if out == nil {
		out = os.Stdout
	}

	var writers []io.Writer
	switch cfg.Format {
	case "", "json":
		writers = append(writers, out)
	case "console":
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				"component",
				zerolog.MessageFieldName,
			},
		})
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != nil && cfg.File.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Filename), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
			LocalTime:  true,
		}
		writers = append(writers, file)
		closer = file
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if cfg.Sampling {
		logger = logger.Sample(zerolog.LevelSampler{
			TraceSampler: debugSampler(),
			DebugSampler: debugSampler(),
		})
	}
	return logger, closer, nil
}

func debugSampler() zerolog.Sampler {
	return &zerolog.BurstSampler{
		Burst:       10,
		Period:      time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
