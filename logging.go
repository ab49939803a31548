// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is debug, info, warn or error; empty means info.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is "console" or "json"; empty means console.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// File additionally writes JSON logs to a rotated file; empty disables.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	// MaxSizeMB rotates the log file after this many megabytes.
	MaxSizeMB int `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	// Compress gzips rotated files.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
	// Quiet disables the stderr output.
	Quiet bool `json:"quiet,omitempty" yaml:"quiet,omitempty"`
}

// Defaults for rotated log files.
const (
	DefaultLogMaxSizeMB  = 64
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 14
)

// applyDefaults fills zero-valued log options with defaults.
func (c *LogConfig) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "console"
	}

	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = DefaultLogMaxSizeMB
	}

	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultLogMaxBackups
	}

	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

// NewLogger builds a zap logger writing to stderr and, when File is set,
// to a size-rotated JSON log file. With both outputs disabled the logger is a no-op.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	cfg.applyDefaults()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if !cfg.Quiet {
		var enc zapcore.Encoder
		switch strings.ToLower(cfg.Format) {
		case "console":
			consoleCfg := encCfg
			consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
			enc = zapcore.NewConsoleEncoder(consoleCfg)
		case "json":
			enc = zapcore.NewJSONEncoder(encCfg)
		default:
			return nil, fmt.Errorf("log format %q: want console or json", cfg.Format)
		}

		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}

	if cfg.File != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
