package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the service logger. Development gets a console writer
// at debug level; everything else emits JSON at info.
func NewLogger(cfg *Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(out io.Writer, cfg *Config) zerolog.Logger {
	appEnv, service, version := "development", "clipgen", "dev"
	if cfg != nil {
		appEnv, service, version = cfg.AppEnv, cfg.ServiceName, cfg.BuildVersion
	}
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) *zerolog.Logger {
	l := logger.With().Str("component", name).Logger()
	return &l
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
