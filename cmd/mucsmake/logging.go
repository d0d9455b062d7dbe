package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func consoleWriter(w io.Writer, verbose bool) zerolog.LevelWriter {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.InfoLevel
	}
	return &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}},
		Level:  level,
	}
}

func setupConsoleLogging(w io.Writer, verbose bool) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(consoleWriter(w, verbose)).With().Timestamp().Logger()
}

// setupLogging sends warnings (info with verbose) to the console and
// everything from debug up to logFile as JSON. If the file cannot be
// opened the console logger is still installed.
func setupLogging(w io.Writer, verbose bool, logFile string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if logFile == "" {
		setupConsoleLogging(w, verbose)
		return nil
	}
	if dir := filepath.Dir(logFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			setupConsoleLogging(w, verbose)
			return err
		}
	}
	f, err := os.OpenFile(filepath.Clean(logFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) // #nosec G302 -- log holds no secrets
	if err != nil {
		setupConsoleLogging(w, verbose)
		return err
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	multi := zerolog.MultiLevelWriter(consoleWriter(w, verbose), f)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return nil
}
