package logging

import (
	"os"
	"strings"
	"time"

	"agent-workflow-engine/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// Keep first 100, then 1 every 100 thereafter.
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

// ForWorker returns a child logger tagged with the worker id.
func ForWorker(base *zerolog.Logger, workerID string) *zerolog.Logger {
	l := base.With().Str("worker_id", workerID).Logger()
	return &l
}

// ForTurn returns a child logger tagged with turn and project ids.
func ForTurn(base *zerolog.Logger, turnID, projectID string) *zerolog.Logger {
	l := base.With().Str("turn_id", turnID).Str("project_id", projectID).Logger()
	return &l
}
