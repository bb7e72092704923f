// Package log provides the process-wide structured logger used across
// gwbroker, grounded on cuemby-warren's pkg/log: a package-level zerolog
// Logger, an Init that picks console or JSON output, and WithComponent
// helpers child packages use to tag their log lines.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init configures it; until Init
// is called it defaults to a console writer on stderr at info level, so
// library code (and tests) gets reasonable output with no setup.
var Logger zerolog.Logger

// Level names accepted by Config.Level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the global logger's verbosity and output shape.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global Logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagging every line with
// component=name (broker, gateway, reconciler, a loader name, ...).
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithModule returns a child logger additionally tagging the module
// name a log line concerns.
func WithModule(component, module string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("module", module).Logger()
}
