package app

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trumi/inventory/internal/config"
)

// SetupLogger points the global zerolog logger at out: JSON lines in
// production, the console writer otherwise. An unknown LOG_LEVEL means info.
func SetupLogger(cfg config.Config, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Production() {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
