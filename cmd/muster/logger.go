// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/muster/lib/config"
)

// newLogger builds the process logger. In auto format, output that is
// a terminal gets text and anything else (log collectors, CI) gets
// JSON. levelOverride, when set, replaces the configured level.
func newLogger(output *os.File, logging config.LoggingConfig, levelOverride string) (*slog.Logger, error) {
	levelName := logging.Level
	if levelOverride != "" {
		levelName = levelOverride
	}
	level, err := config.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	text := logging.Format == "text"
	if logging.Format == "auto" || logging.Format == "" {
		text = term.IsTerminal(int(output.Fd()))
	}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler), nil
}
