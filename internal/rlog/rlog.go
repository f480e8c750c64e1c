// Package rlog provides config-driven, per-category file logging for the
// rule engine, built on go.uber.org/zap. Logs are written to
// <workspace>/.ruleengine/logs/ with one file per category; when the
// configured DebugMode is false, Init is a silent no-op and every category
// logger degrades to zap's no-op logger, so the engine never writes to disk
// in production use.
package rlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one of the engine's logging subsystems.
type Category string

const (
	CategoryBoot      Category = "boot"      // engine construction, config load
	CategoryEngine    Category = "engine"    // host-facing operations (fire_all, query, ...)
	CategoryAgenda    Category = "agenda"    // forward-chaining cycle/focus/fire
	CategoryRete      Category = "rete"      // alpha/beta network propagation
	CategoryBackward  Category = "backward"  // goal-driven search
	CategoryProof     Category = "proof"     // proof-graph insert/invalidate
	CategoryGRL       Category = "grl"       // lexer/parser diagnostics
	CategoryConfig    Category = "config"    // configuration load/reload
	CategoryCLI       Category = "cli"       // cmd/ruleengine
)

// Config mirrors the logging section of rconfig.Config, kept separate to
// avoid an import cycle between rconfig and rlog.
type Config struct {
	DebugMode  bool
	Categories map[string]bool // nil or empty = all categories enabled in debug mode
	Level      string          // debug|info|warn|error
	JSONFormat bool            // structured JSON lines instead of console encoding
}

var (
	mu         sync.RWMutex
	cfg        Config
	logsDir    string
	loggers    = make(map[Category]*zap.SugaredLogger)
	logFiles   = make(map[Category]*os.File)
	zapLevel   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	noopLogger = zap.NewNop().Sugar()
)

// Init sets the logging directory under workspace and loads cfg. Call once
// at startup. In production mode (cfg.DebugMode == false) this creates no
// files and every Get call returns a no-op logger.
func Init(workspace string, c Config) error {
	mu.Lock()
	cfg = c
	zapLevel.SetLevel(parseLevel(c.Level))
	if !c.DebugMode {
		mu.Unlock()
		return nil
	}
	if workspace == "" {
		mu.Unlock()
		return fmt.Errorf("rlog: workspace path required in debug mode")
	}
	logsDir = filepath.Join(workspace, ".ruleengine", "logs")
	mu.Unlock()

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("rlog: create log directory: %w", err)
	}
	Get(CategoryBoot).Infow("logging initialized", "dir", logsDir, "level", c.Level, "json", c.JSONFormat)
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode reports whether logging is currently enabled at all.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled reports whether category should log, honoring
// cfg.Categories (absence from the map defaults to enabled).
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (creating if necessary) the zap sugared logger for category.
// Disabled categories and a not-yet-initialized registry return a shared
// no-op logger rather than nil, so every call site may log unconditionally.
func Get(category Category) *zap.SugaredLogger {
	if !IsCategoryEnabled(category) {
		return noopLogger
	}

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

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[rlog] could not open log file %s: %v\n", path, err)
		return noopLogger
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(file), zapLevel)
	logger := zap.New(core, zap.Fields(zap.String("category", string(category)))).Sugar()

	loggers[category] = logger
	logFiles[category] = file
	return logger
}

// CloseAll flushes and closes every open category logger. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for cat, l := range loggers {
		_ = l.Sync()
		if f, ok := logFiles[cat]; ok {
			_ = f.Close()
		}
	}
	loggers = make(map[Category]*zap.SugaredLogger)
	logFiles = make(map[Category]*os.File)
}
