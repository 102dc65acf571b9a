package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorBold   = "\033[1m"
)

// PrettyHandler is a slog.Handler for terminals. Records that carry a
// scoring scope (model, revision, file, line) get it as a prefix, and err is
// always printed last:
//
//	15:04:05 ERROR gpt2@step1 items.txt:2 | skipping stimulus stimulus="..." err="..."
type PrettyHandler struct {
	opts    slog.HandlerOptions
	w       io.Writer
	mu      *sync.Mutex
	group   string
	attrs   []slog.Attr
	noColor bool
}

// NewPrettyHandler creates a new PrettyHandler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{
		opts: *opts,
		w:    w,
		mu:   &sync.Mutex{},
	}
}

// WithoutColor returns a copy of the handler that emits no ANSI sequences.
func (h *PrettyHandler) WithoutColor() *PrettyHandler {
	c := h.clone()
	c.noColor = true
	return c
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

// scope is the part of a record that locates it in a scoring run.
type scope struct {
	model, revision, file, line string
}

func (s *scope) take(a slog.Attr) bool {
	v := a.Value.Resolve()
	switch a.Key {
	case "model":
		s.model = v.String()
	case "revision":
		s.revision = v.String()
	case "file":
		s.file = filepath.Base(v.String())
	case "line":
		s.line = v.String()
	default:
		return false
	}
	return true
}

func (s scope) empty() bool {
	return s == scope{}
}

func (s scope) appendTo(buf []byte) []byte {
	if s.model != "" {
		buf = append(buf, s.model...)
		// Placeholder revisions such as "[!latest!]" are omitted.
		if s.revision != "" && !strings.HasPrefix(s.revision, "[!") {
			buf = append(buf, '@')
			buf = append(buf, s.revision...)
		}
	}
	if s.file == "" && s.line == "" {
		return buf
	}
	if s.model != "" {
		buf = append(buf, ' ')
	}
	if s.file == "" {
		return append(append(buf, "line "...), s.line...)
	}
	buf = append(buf, s.file...)
	if s.line != "" {
		buf = append(buf, ':')
		buf = append(buf, s.line...)
	}
	return buf
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var sc scope
	var errAttr *slog.Attr
	rest := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) {
		if h.group == "" {
			if a.Key == "err" || a.Key == "error" {
				errAttr = &a
				return
			}
			if sc.take(a) {
				return
			}
		}
		rest = append(rest, a)
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	buf := make([]byte, 0, 512)
	buf = h.paint(buf, colorGray)
	buf = r.Time.AppendFormat(buf, time.TimeOnly)
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')

	buf = h.paint(buf, levelColor(r.Level))
	buf = h.paint(buf, colorBold)
	buf = append(buf, padLevel(r.Level.String())...)
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')

	if !sc.empty() {
		buf = h.paint(buf, colorGreen)
		buf = sc.appendTo(buf)
		buf = h.paint(buf, colorReset)
		buf = append(buf, " | "...)
	}
	buf = append(buf, r.Message...)

	if len(rest) > 0 {
		buf = h.paint(buf, colorCyan)
		for _, a := range rest {
			buf = append(buf, ' ')
			buf = appendAttr(buf, a, h.group)
		}
		buf = h.paint(buf, colorReset)
	}
	if errAttr != nil {
		buf = append(buf, ' ')
		buf = h.paint(buf, colorRed)
		buf = appendAttr(buf, *errAttr, "")
		buf = h.paint(buf, colorReset)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.attrs = append(append(make([]slog.Attr, 0, len(h.attrs)+len(attrs)), h.attrs...), attrs...)
	return c
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if h.group != "" {
		c.group = h.group + "." + name
	} else {
		c.group = name
	}
	return c
}

func (h *PrettyHandler) clone() *PrettyHandler {
	c := *h
	return &c
}

func (h *PrettyHandler) paint(buf []byte, code string) []byte {
	if h.noColor {
		return buf
	}
	return append(buf, code...)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

// padLevel pads to five characters so messages line up.
func padLevel(level string) string {
	return fmt.Sprintf("%-5s", level)
}

func appendAttr(buf []byte, attr slog.Attr, group string) []byte {
	attr.Value = attr.Value.Resolve()
	key := attr.Key
	if group != "" {
		key = group + "." + key
	}

	if attr.Value.Kind() == slog.KindGroup {
		for i, a := range attr.Value.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, a, key)
		}
		return buf
	}

	buf = append(buf, key...)
	buf = append(buf, '=')

	var s string
	switch attr.Value.Kind() {
	case slog.KindTime:
		return attr.Value.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, attr.Value.Float64(), 'g', -1, 64)
	case slog.KindString:
		s = attr.Value.String()
	default:
		s = fmt.Sprint(attr.Value.Any())
	}
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

// needsQuoting reports whether s would be ambiguous unquoted. Stimulus text
// routinely contains spaces, tabs and quotes.
func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\n\r\"=")
}
