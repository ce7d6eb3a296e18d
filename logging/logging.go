// Package logging builds the structured logger used throughout libresync.
//
// Copyright © 2020 Michael D Broadway <mikebway@mikebway.com>
//
// Licensed under the ISC License (ISC)
package logging

import (
	"io"
	"log"
	"log/slog"
)

// New returns a text logger writing to w at info level, or debug level when
// verbose is set. The standard library logger is pointed at the same writer.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	// Keep any stray stdlib log output in the same place
	log.SetOutput(w)
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
