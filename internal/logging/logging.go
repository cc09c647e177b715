// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging builds the slog.Logger of the binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GermanBionicSystems/owslave/internal/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/phsym/console-slog"
)

// New returns a logger writing to w.
//
// The console format is colored only when w is a terminal.
func New(w io.Writer, cfg *config.LogConfig) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	var handler slog.Handler
	switch cfg.Format {
	case "console", "":
		color := false
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			color = true
			w = colorable.NewColorable(f)
		}
		handler = console.NewHandler(w, &console.HandlerOptions{
			Level:   lvl,
			NoColor: !color,
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	return slog.New(handler), nil
}
