// Package logging configures the process-wide zerolog logger.
// Components obtain scoped loggers via Component so every line carries
// a component field for filtering.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls log output.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "console". Defaults to console.
	Format string
	// Output overrides the destination (used by tests). Defaults to stderr.
	Output io.Writer
}

var (
	mu   sync.RWMutex
	root zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init installs the root logger from config. Safe to call more than once;
// the last call wins.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level := parseLevel(cfg.Level)

	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a logger scoped to the named component.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		if lvl, err := zerolog.ParseLevel(s); err == nil {
			return lvl
		}
		return zerolog.InfoLevel
	}
}
