package observ

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init configures the process-wide logger. Level is one of zerolog's level
// strings ("debug", "info", "warn", "error"); unknown values fall back to info.
// When console is true, output is human-readable instead of JSON.
func Init(level string, console bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := zerolog.New(os.Stdout)
	if console {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	mu.Lock()
	logger = out.Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// Logger returns a child logger tagged with a component name.
func Logger(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// Log emits a structured event with arbitrary key/value context. Hot paths that
// log heterogeneous fields (gate evaluations, cycle summaries) use this; code
// with stable fields should prefer a component logger from Logger.
func Log(event string, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	e := l.Info()
	for k, v := range kv {
		e = e.Interface(k, v)
	}
	e.Msg(event)
}

// Warn emits a warning-level event with key/value context.
func Warn(event string, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	e := l.Warn()
	for k, v := range kv {
		e = e.Interface(k, v)
	}
	e.Msg(event)
}

// Error emits an error-level event carrying err and key/value context.
func Error(event string, err error, kv map[string]any) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	e := l.Error().Err(err)
	for k, v := range kv {
		e = e.Interface(k, v)
	}
	e.Msg(event)
}
