// Package logging adapts zerolog, the pack's own structured-logging
// dependency (as wired in uncord-chat-uncord-server's stdout logger), onto
// the standard log/slog.Handler interface every other package in this tree
// logs through.
package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewZerologHandler builds a slog.Handler that writes structured JSON
// through a zerolog.Logger, so the rest of the tree can keep using
// *slog.Logger/slog.Attr while the actual encoding and writing is done by
// zerolog's allocation-light event builder.
func NewZerologHandler(w io.Writer, level slog.Level) slog.Handler {
	return &zerologHandler{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  level,
	}
}

type zerologHandler struct {
	logger zerolog.Logger
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *zerologHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.eventForLevel(r.Level)
	for _, a := range h.attrs {
		evt = applyAttr(evt, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = applyAttr(evt, h.group, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

func (h *zerologHandler) eventForLevel(level slog.Level) *zerolog.Event {
	switch {
	case level >= slog.LevelError:
		return h.logger.Error()
	case level >= slog.LevelWarn:
		return h.logger.Warn()
	case level >= slog.LevelInfo:
		return h.logger.Info()
	default:
		return h.logger.Debug()
	}
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &zerologHandler{logger: h.logger, level: h.level, group: h.group}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	next := &zerologHandler{logger: h.logger, level: h.level, attrs: h.attrs}
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return next
}

// applyAttr writes a on evt under group's dotted prefix, dispatching on the
// attr's kind so values keep their native zerolog encoding instead of
// falling back to a generic Interface() for every field.
func applyAttr(evt *zerolog.Event, group string, a slog.Attr) *zerolog.Event {
	if a.Equal(slog.Attr{}) {
		return evt
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return evt.Str(key, v.String())
	case slog.KindInt64:
		return evt.Int64(key, v.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return evt.Float64(key, v.Float64())
	case slog.KindBool:
		return evt.Bool(key, v.Bool())
	case slog.KindDuration:
		return evt.Dur(key, v.Duration())
	case slog.KindTime:
		return evt.Time(key, v.Time())
	default:
		return evt.Interface(key, v.Any())
	}
}
