// Package logging builds the single process-wide structured logger every
// coordinator component receives through its constructor.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
)

// Level selectors accepted via COORDEX_LOG_LEVEL.
const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
	LevelInfo  = "INFO"
	LevelDebug = "DEBUG"
)

// Options configures New.
type Options struct {
	Level  string // ERROR|WARN|INFO|DEBUG, default INFO
	JSON   bool   // force JSON handler even on a TTY
	Output io.Writer
	// Redact is a set of regexes applied to every rendered message before
	// it reaches the handler; attribute values pass through unchanged. Nil
	// disables redaction.
	Redact []*regexp.Regexp
}

func levelFromString(s string) slog.Level {
	switch strings.ToUpper(s) {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New builds a *slog.Logger. When the output writer (stderr unless
// Options.Output is set) is a terminal and JSON is not
// forced, output is rendered with color-coded level prefixes in the same
// spirit as the CLI's own use of fatih/color; otherwise records are
// emitted as JSON lines suitable for ingestion.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: levelFromString(opts.Level)}

	var base slog.Handler
	if opts.JSON || !isTerminal(out) {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = &consoleHandler{out: out, opts: handlerOpts}
	}

	if len(opts.Redact) > 0 {
		base = &redactingHandler{next: base, patterns: opts.Redact}
	}

	return slog.New(base)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// consoleHandler is a minimal slog.Handler that renders level-colored,
// single-line records, mirroring the CLI's existing fatih/color usage for
// human-facing output rather than routing everything through JSON.
type consoleHandler struct {
	out   io.Writer
	opts  *slog.HandlerOptions
	attrs []slog.Attr
	group string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	levelColor := color.New(color.FgWhite)
	switch {
	case r.Level >= slog.LevelError:
		levelColor = color.New(color.FgRed, color.Bold)
	case r.Level >= slog.LevelWarn:
		levelColor = color.New(color.FgYellow)
	case r.Level >= slog.LevelInfo:
		levelColor = color.New(color.FgCyan)
	default:
		levelColor = color.New(color.FgHiBlack)
	}

	var b strings.Builder
	b.WriteString(levelColor.Sprintf("%-5s", r.Level.String()))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.group = name
	return &cp
}

// redactingHandler scrubs matches of any configured pattern from the
// rendered message before delegating to the wrapped handler.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	for _, p := range h.patterns {
		msg = p.ReplaceAllString(msg, "[REDACTED]")
	}
	clone := slog.NewRecord(r.Time, r.Level, msg, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clone.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, clone)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactingHandler{next: h.next.WithAttrs(attrs), patterns: h.patterns}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}
