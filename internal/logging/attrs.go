package logging

import (
	"log/slog"
	"slices"
	"time"
)

// scopedAttr is an attr from WithAttrs together with the groups that were
// open when it was added.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

// attrScope holds the WithAttrs/WithGroup state shared by the buffer and
// journal handlers.
type attrScope struct {
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

func (s attrScope) enabled(level slog.Level) bool {
	return level >= s.level.Level()
}

func (s attrScope) withAttrs(attrs []slog.Attr) attrScope {
	next := s
	next.attrs = slices.Clip(s.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, scopedAttr{groups: s.groups, attr: a})
	}
	return next
}

func (s attrScope) withGroup(name string) attrScope {
	next := s
	next.groups = append(slices.Clip(s.groups), name)
	return next
}

// walk calls fn for every leaf attr of the handler and of r, with the full
// group path of the leaf.
func (s attrScope) walk(r slog.Record, fn func(path []string, a slog.Attr)) {
	for _, sa := range s.attrs {
		walkAttr(sa.groups, sa.attr, fn)
	}
	r.Attrs(func(a slog.Attr) bool {
		walkAttr(s.groups, a, fn)
		return true
	})
}

func walkAttr(groups []string, a slog.Attr, fn func([]string, slog.Attr)) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		fn(groups, a)
		return
	}
	// Inline groups (empty key) do not add a path element.
	inner := groups
	if a.Key != "" {
		inner = append(slices.Clip(groups), a.Key)
	}
	for _, ga := range a.Value.Group() {
		walkAttr(inner, ga, fn)
	}
}

// leafValue converts a resolved non-group value to something that
// marshals cleanly to JSON.
func leafValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}
