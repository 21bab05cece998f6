package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Category names a component whose debug output can be switched on alone.
type Category string

const (
	CategoryTrie   Category = "trie"
	CategoryVector Category = "vector"
	CategoryVocab  Category = "vocab"
	CategoryTxn    Category = "txn"
	CategoryStore  Category = "store"
)

var known = []Category{CategoryTrie, CategoryVector, CategoryVocab, CategoryTxn, CategoryStore}

// Categories is the set of categories that log at debug level.
type Categories map[Category]struct{}

// ParseCategories reads a comma separated list. "all" enables every category.
func ParseCategories(s string) (Categories, error) {
	c := Categories{}
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if name == "all" {
			for _, k := range known {
				c[k] = struct{}{}
			}
			continue
		}
		cat := Category(name)
		if !isKnown(cat) {
			return nil, fmt.Errorf("unknown debug category %q", name)
		}
		c[cat] = struct{}{}
	}
	return c, nil
}

func isKnown(cat Category) bool {
	for _, k := range known {
		if k == cat {
			return true
		}
	}
	return false
}

func (c Categories) Enabled(cat Category) bool {
	_, ok := c[cat]
	return ok
}

func (c Categories) String() string {
	names := make([]string, 0, len(c))
	for cat := range c {
		names = append(names, string(cat))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Logger derives the logger of one component from base. Debug records pass
// only when cat is enabled; everything from Info up is left to base.
func (c Categories) Logger(base *slog.Logger, cat Category) *slog.Logger {
	l := base.With("component", string(cat))
	if c.Enabled(cat) {
		return l
	}
	return slog.New(&minLevelHandler{min: slog.LevelInfo, inner: l.Handler()})
}

type minLevelHandler struct {
	min   slog.Level
	inner slog.Handler
}

func (h *minLevelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.min && h.inner.Enabled(ctx, l)
}

func (h *minLevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{min: h.min, inner: h.inner.WithAttrs(attrs)}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{min: h.min, inner: h.inner.WithGroup(name)}
}
