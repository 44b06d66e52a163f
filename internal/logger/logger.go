// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the process-wide, leveled, synchronous logger
// for glidixfsd. It wraps log/slog with a TRACE level below DEBUG
// (mount-daemon operators need to see individual resolver hops without
// drowning in Go's own runtime chatter) and a choice of text or JSON
// output, mirroring the logging surface a mount daemon's config exposes.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// levelTrace sits below slog.LevelDebug, for per-operation resolver/driver
// tracing that is too noisy to enable even at debug level by default.
const levelTrace = slog.LevelDebug - 4

var severityNames = map[slog.Level]string{
	levelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
}

// replaceAttr renames slog's built-in "level" key to "severity" and prints
// the custom TRACE level's name, since slog itself only knows the name for
// its four built-in levels.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		name, ok := severityNames[level]
		if !ok {
			name = level.String()
		}
		a.Key = "severity"
		a.Value = slog.StringValue(name)
	}
	return a
}

type factory struct {
	format string // "text" or "json"
}

func (f *factory) newHandler(w io.Writer, levelVar *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelVar, ReplaceAttr: replaceAttr}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	defaultFactory = &factory{format: "text"}
	levelVar       = new(slog.LevelVar)
	defaultLogger  = slog.New(defaultFactory.newHandler(os.Stderr, levelVar))
)

// Config is the subset of internal/config's logging options this package
// needs; kept narrow so logger doesn't import config (config imports
// logger-adjacent defaults, not the other way around).
type Config struct {
	Format   string // "text" or "json"
	Severity string // TRACE, DEBUG, INFO, WARNING, ERROR, OFF
	Writer   io.Writer
}

// Init reconfigures the package-level logger. Callers typically do this
// once at daemon startup from the parsed mount configuration.
func Init(cfg Config) error {
	if cfg.Format != "" {
		defaultFactory.format = cfg.Format
	}
	if err := setLevel(cfg.Severity); err != nil {
		return err
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	defaultLogger = slog.New(defaultFactory.newHandler(w, levelVar))
	return nil
}

func setLevel(severity string) error {
	switch severity {
	case "", "INFO":
		levelVar.Set(slog.LevelInfo)
	case "TRACE":
		levelVar.Set(levelTrace)
	case "DEBUG":
		levelVar.Set(slog.LevelDebug)
	case "WARNING":
		levelVar.Set(slog.LevelWarn)
	case "ERROR":
		levelVar.Set(slog.LevelError)
	case "OFF":
		levelVar.Set(slog.Level(1 << 20)) // above every real level
	default:
		return fmt.Errorf("logger: unknown severity %q", severity)
	}
	return nil
}

func log(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{}) { log(levelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { log(slog.LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { log(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { log(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { log(slog.LevelError, format, v...) }

// Fatalf logs at ERROR severity and terminates the process, for mount-time
// failures that leave the daemon with nothing useful left to do.
func Fatalf(format string, v ...interface{}) {
	log(slog.LevelError, format, v...)
	os.Exit(1)
}
