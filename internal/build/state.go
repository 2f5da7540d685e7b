package build

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hotovec/mails/internal/compiler"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/styles"
)

// State carries the artifacts tasks hand to each other. compile-styles
// reads the documents compile-pages produced instead of re-reading the
// output tree, so the ordering lives in the graph rather than on disk.
//
// A State outlives a single run: incremental runs skip upstream tasks and
// reuse what the previous run left here.
type State struct {
	mutex      sync.RWMutex
	documents  []*compiler.Document
	sheet      *styles.Stylesheet
	images     []string
	pageErrors *errors.Collector
	written    []string
}

// NewState returns an empty State.
func NewState() *State {
	return &State{pageErrors: errors.NewCollector()}
}

// Documents returns the documents of the last compile-pages run.
func (s *State) Documents() []*compiler.Document {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.documents
}

func (s *State) setDocuments(docs []*compiler.Document, pageErrors *errors.Collector) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.documents = docs
	if pageErrors == nil {
		pageErrors = errors.NewCollector()
	}
	s.pageErrors = pageErrors
}

// Stylesheet returns the stylesheet of the last compile-styles run.
func (s *State) Stylesheet() *styles.Stylesheet {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sheet
}

func (s *State) setStylesheet(sheet *styles.Stylesheet) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sheet = sheet
}

// Images returns the image paths, relative to the image output
// directory, written by the last process-images run.
func (s *State) Images() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.images
}

func (s *State) setImages(images []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.images = images
}

// PageErrors returns the page-scoped failures of the last compile.
func (s *State) PageErrors() *errors.Collector {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.pageErrors
}

// Written returns the document files written by the last inline run.
func (s *State) Written() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.written
}

func (s *State) setWritten(paths []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.written = paths
}

// writeFileAtomic writes data to a temp file next to name and renames it
// into place, so readers never observe a partial file.
func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("create %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("write %s", name), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("write %s", name), err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("write %s", name), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("write %s", name), err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		return errors.NewIOError(errors.ErrCodeWrite, fmt.Sprintf("rename %s", name), err)
	}
	return nil
}
