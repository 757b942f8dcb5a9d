// Copyright 2025 Kadir Pekel
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

// Package logger configures the process-wide slog.Logger used by every
// engine in the orchestration core. Third-party library logs (from
// dependencies that also call slog.Default) are suppressed below debug
// level so operators aren't drowned out by chatter that isn't this
// module's own.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var (
	current      *slog.Logger
	corePrefix   = "github.com/hectorcore/substrate"
	currentLevel = slog.LevelInfo
)

// ParseLevel converts a string log level to slog.Level. Valid levels:
// debug, info, warn, error. Unrecognized input falls back to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// config holds the settings an Option mutates.
type config struct {
	level  slog.Level
	output *os.File
	format string
}

// Option configures Init.
type Option func(*config)

// WithLevel sets the minimum level that reaches the output.
func WithLevel(level slog.Level) Option {
	return func(c *config) { c.level = level }
}

// WithOutput sets the destination file (or pipe/terminal) for log records.
func WithOutput(output *os.File) Option {
	return func(c *config) { c.output = output }
}

// WithFormat selects the rendering: "simple" (level + message + attributes), "verbose"
// (timestamp + level + message + attributes), or any other value, which
// falls back to slog's standard text format.
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// depthFilter wraps a slog.Handler and drops records that did not
// originate inside the core module, unless the configured level is debug
// or lower, in which case everything passes through.
type depthFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *depthFilter) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *depthFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || originatesInCore(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *depthFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &depthFilter{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *depthFilter) WithGroup(name string) slog.Handler {
	return &depthFilter{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// originatesInCore reports whether pc's function belongs to this module,
// by checking both the fully-qualified function name and its source file
// against corePrefix.
func originatesInCore(pc uintptr) bool {
	if pc == 0 {
		return false
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}

	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), corePrefix) || strings.Contains(file, corePrefix)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func normalizeLevelName(level slog.Level) string {
	name := level.String()
	if name == "WARNING" {
		return "WARN"
	}
	return strings.ToUpper(name)
}

// lineHandler renders one log line per record: an optional timestamp, the
// level (optionally colored), the message, and key=value attributes.
type lineHandler struct {
	handler  slog.Handler
	writer   io.Writer
	color    bool
	showTime bool
}

func (h *lineHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *lineHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.showTime && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	levelStr := normalizeLevelName(record.Level)
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelStr)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelStr)
	}

	buf.WriteString(" ")
	buf.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer, color: h.color, showTime: h.showTime}
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	return &lineHandler{handler: h.handler.WithGroup(name), writer: h.writer, color: h.color, showTime: h.showTime}
}

// Init (re)configures the process-wide logger and installs it as
// slog.Default, so dependencies that log via the standard slog package
// also flow through the core's filtering and formatting.
func Init(opts ...Option) {
	c := config{level: slog.LevelInfo, output: os.Stderr, format: "simple"}
	for _, opt := range opts {
		opt(&c)
	}

	color := isTerminal(c.output)
	verbose := c.format == "verbose"
	simple := c.format == "simple" || c.format == ""

	handlerOpts := &slog.HandlerOptions{
		Level: c.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}

	base := slog.NewTextHandler(c.output, handlerOpts)

	var handler slog.Handler = base
	switch {
	case simple || verbose:
		handler = &lineHandler{handler: base, writer: c.output, color: color, showTime: verbose}
	}

	current = slog.New(&depthFilter{handler: handler, minLevel: c.level})
	currentLevel = c.level
	slog.SetDefault(current)
}

// OpenLogFile opens or creates a log file at path in append mode, returning
// the handle and a cleanup function to close it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the process-wide logger, lazily initializing it with
// info level, simple format, on stderr if Init was never called.
func GetLogger() *slog.Logger {
	if current == nil {
		Init()
	}
	return current
}

// Level returns the minimum level the current logger was configured with.
func Level() slog.Level {
	GetLogger()
	return currentLevel
}
