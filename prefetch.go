package docprops

import (
	"context"
	"log/slog"

	"github.com/andreyvit/docprops/prop"
	"github.com/andreyvit/docprops/schema"
)

type prefetchKey struct {
	schema string
	path   string
}

type prefetchEntry struct {
	typ   schema.Type
	value any
}

// prefetchCache holds the allow-listed fields of a document read at load
// time. Entries of a schema only exist while its part is unmaterialized and
// unwritten.
type prefetchCache struct {
	entries map[prefetchKey]prefetchEntry
	logger  *slog.Logger
	verbose bool
	docID   string
}

func (c *prefetchCache) put(schemaName, path string, typ schema.Type, v any) {
	if c.entries == nil {
		c.entries = make(map[prefetchKey]prefetchEntry)
	}
	c.entries[prefetchKey{schemaName, path}] = prefetchEntry{typ, v}
}

// get returns a copy of the cached value, so array reads never alias.
func (c *prefetchCache) get(schemaName, path string) (any, bool) {
	e, ok := c.entries[prefetchKey{schemaName, path}]
	if !ok {
		return nil, false
	}
	return prop.ExportLeaf(e.typ, e.value), true
}

func (c *prefetchCache) has(schemaName, path string) bool {
	_, ok := c.entries[prefetchKey{schemaName, path}]
	return ok
}

func (c *prefetchCache) invalidate(schemaName string) {
	var n int
	for k := range c.entries {
		if k.schema == schemaName {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 && c.verbose {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "prefetch invalidated", slog.String("doc", c.docID), slog.String("schema", schemaName), slog.Int("entries", n))
	}
}
