// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the structured, leveled logger used throughout
// this module, in the key-value idiom of go-ethereum's log package
// (log.Debug("Persisted buffer content", "nodes", nodes, "bytes", size)).
package log

import (
	"context"
	"log/slog"
	"os"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetDefault replaces the root logger's handler, e.g. to raise verbosity
// or switch to JSON output for production deployments.
func SetDefault(l *slog.Logger) { root = l }

// Logger is a contextual logger carrying a fixed set of key-value pairs,
// created with New and reused across one subsystem (e.g. one BufferManager
// or one Cache instance) so every log line it emits is automatically
// tagged.
type Logger struct {
	inner *slog.Logger
}

// New returns a Logger pre-populated with the given key-value context.
func New(ctx ...any) Logger {
	return Logger{inner: root.With(ctx...)}
}

func (l Logger) Trace(msg string, ctx ...any) { l.inner.Log(context.Background(), slog.LevelDebug-4, msg, ctx...) }
func (l Logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l Logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l Logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l Logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }

// Crit logs at error level and terminates the process, mirroring
// go-ethereum's log.Crit which is reserved for unrecoverable invariant
// breaches (e.g. a poisoned prop-file lock).
func (l Logger) Crit(msg string, ctx ...any) {
	l.inner.Error(msg, ctx...)
	os.Exit(1)
}

// Package-level convenience wrappers over the root logger.
func Trace(msg string, ctx ...any) { New().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { New().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { New().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { New().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { New().Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { New().Crit(msg, ctx...) }
