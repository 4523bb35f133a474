// Package logging provides categorized structured logging for riskloop.
// Each subsystem logs through a named child of a single zap root logger so
// log lines carry their category and can be filtered per subsystem.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryLoop      Category = "loop"      // Convergence controller
	CategoryResearch  Category = "research"  // Evidence gathering
	CategoryPremortem Category = "premortem" // Risk analysis
	CategoryRemediate Category = "remediate" // Remediation collaborator
	CategoryStore     Category = "store"     // Run history persistence
)

// Config controls the logging backend.
type Config struct {
	Level      string          `yaml:"level"`       // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"` // JSON output instead of console
	Categories map[string]bool `yaml:"categories"`  // per-category enable; empty = all enabled
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSONFormat: false,
	}
}

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers map[Category]*zap.Logger
	enabled map[string]bool
)

func init() {
	root = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
}

// Init builds the root logger from config. Safe to call more than once;
// subsequent calls replace the backend for new Get calls.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.JSONFormat {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
	enabled = cfg.Categories
	return nil
}

// SetLogger installs an externally built root logger (used by tests and by
// hosts that manage their own zap configuration).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the logger for a category, creating it on first use.
// Disabled categories get a no-op logger.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	var l *zap.Logger
	if enabled != nil {
		if on, ok := enabled[string(category)]; ok && !on {
			l = zap.NewNop()
		}
	}
	if l == nil {
		l = root.Named(string(category))
	}
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Convenience accessors for the common categories.

func Boot() *zap.Logger      { return Get(CategoryBoot) }
func Loop() *zap.Logger      { return Get(CategoryLoop) }
func Research() *zap.Logger  { return Get(CategoryResearch) }
func Premortem() *zap.Logger { return Get(CategoryPremortem) }
func Remediate() *zap.Logger { return Get(CategoryRemediate) }
func Store() *zap.Logger     { return Get(CategoryStore) }
