// Package errors defines the build error taxonomy and a collector for
// page-scoped failures.
package errors

import (
	"errors"
	"sort"
	"sync"
)

// Collector gathers page-scoped errors produced while the rest of the
// build carries on.
type Collector struct {
	errs  []error
	mutex sync.RWMutex
}

// NewCollector creates a new error collector.
func NewCollector() *Collector {
	return &Collector{
		errs: make([]error, 0),
	}
}

// Add adds an error to the collector. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns a copy of the collected errors sorted by page.
func (c *Collector) Errors() []error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]error, len(c.errs))
	copy(result, c.errs)
	sort.SliceStable(result, func(i, j int) bool {
		return pageOf(result[i]) < pageOf(result[j])
	})

	return result
}

// HasErrors returns true if there are any errors.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errs) > 0
}

// Len returns the number of collected errors.
func (c *Collector) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errs)
}

// Join folds the collected errors into one, or nil.
func (c *Collector) Join() error {
	return errors.Join(c.Errors()...)
}

func pageOf(err error) string {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Page
	}
	var re *UnresolvedReferenceError
	if errors.As(err, &re) {
		return re.Page
	}

	return ""
}
