package compiler

import (
	"fmt"
	htmltemplate "html/template"
	"sync"
	"sync/atomic"

	"github.com/hotovec/mails/internal/source"
)

// layoutPrefix keeps layout names out of the partial name space.
const layoutPrefix = "@layout:"

// Cache holds the parsed layouts and partials shared by every page, plus
// the last compiled document per page. It is owned by the orchestrator and
// handed to the compiler; Reset is the only invalidation.
type Cache struct {
	mutex sync.RWMutex

	// base has every layout and partial parsed into one name space. Pages
	// clone it before adding their body.
	base   *htmltemplate.Template
	broken map[string]error
	data   map[string]any

	documents map[string]cachedDocument

	generation uint64
	hits       atomic.Int64
	misses     atomic.Int64
}

type cachedDocument struct {
	hash string
	doc  *Document
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Generation uint64
	Templates  int
	Documents  int
	Hits       int64
	Misses     int64
}

// NewCache creates an empty cache. It is populated on first compile.
func NewCache() *Cache {
	return &Cache{documents: make(map[string]cachedDocument)}
}

// Reset drops every parsed template and compiled document.
func (c *Cache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.base = nil
	c.broken = nil
	c.data = nil
	c.documents = make(map[string]cachedDocument)
	c.generation++
}

// Stats returns the current counters.
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := CacheStats{
		Generation: c.generation,
		Documents:  len(c.documents),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
	if c.base != nil {
		stats.Templates = len(c.base.Templates())
	}
	return stats
}

// templates returns the parsed base set, building it from tree when the
// cache is cold.
func (c *Cache) templates(tree *source.Tree, funcs htmltemplate.FuncMap) (*htmltemplate.Template, map[string]error, map[string]any, error) {
	c.mutex.RLock()
	if c.base != nil {
		base, broken, data := c.base, c.broken, c.data
		c.mutex.RUnlock()
		return base, broken, data, nil
	}
	c.mutex.RUnlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.base != nil {
		return c.base, c.broken, c.data, nil
	}

	base := htmltemplate.New("").Funcs(funcs)
	broken := make(map[string]error)

	for _, f := range tree.Files(source.Partials) {
		if _, err := base.New(f.Name()).Parse(preserveComments(string(f.Content))); err != nil {
			broken[f.Name()] = err
		}
	}
	for _, f := range tree.Files(source.Layouts) {
		if _, err := base.New(layoutPrefix + f.Name()).Parse(preserveComments(string(f.Content))); err != nil {
			broken[layoutPrefix+f.Name()] = err
		}
	}

	data, err := loadHelperData(tree)
	if err != nil {
		return nil, nil, nil, err
	}

	c.base = base
	c.broken = broken
	c.data = data
	return base, broken, data, nil
}

func (c *Cache) document(page, hash string) (*Document, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.documents[page]
	if !ok || entry.hash != hash {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.doc, true
}

func (c *Cache) storeDocument(page, hash string, doc *Document) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.documents[page] = cachedDocument{hash: hash, doc: doc}
}

// prune drops documents of pages no longer in the tree.
func (c *Cache) prune(keep map[string]bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for page := range c.documents {
		if !keep[page] {
			delete(c.documents, page)
		}
	}
}

func brokenError(name string, err error) error {
	return fmt.Errorf("template %q does not parse: %w", name, err)
}
