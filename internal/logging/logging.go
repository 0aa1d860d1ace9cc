package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shortsq/internal/config"
)

// Setup configures the global zerolog logger from cfg.
func Setup(cfg config.Log) {
	SetupWriter(cfg, os.Stderr)
}

func SetupWriter(cfg config.Log, w io.Writer) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}
