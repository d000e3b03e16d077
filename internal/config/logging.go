package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel maps a configured level name to zerolog. Unknown or empty names
// fall back to info.
func LogLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetupLogging sets the global level and output. Production emits JSON lines
// tagged with the service name; other environments get the console writer.
func SetupLogging(level, env string) {
	zerolog.SetGlobalLevel(LogLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(env, "production") {
		log.Logger = zerolog.New(os.Stderr).With().
			Timestamp().
			Str("service", "discord-router").
			Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}
