// Package watcher turns file system notifications for the project's
// source trees into debounced batches of change events.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
)

// DefaultDebounce is used when no debounce window is configured.
const DefaultDebounce = 300 * time.Millisecond

// FileWatcher watches directory trees and emits debounced batches.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	logger    logging.Logger
	mutex     sync.RWMutex
	started   bool
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// Debouncer groups rapid file changes together. Events for the same path
// collapse into one, the last one winning.
type Debouncer struct {
	delay  time.Duration
	events chan ChangeEvent
	output chan []ChangeEvent
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 100),
		output: make(chan []ChangeEvent),
	}
}

// Add queues an event. It blocks while the debouncer's input is full.
func (d *Debouncer) Add(ctx context.Context, event ChangeEvent) {
	select {
	case d.events <- event:
	case <-ctx.Done():
	}
}

// Output is the stream of batches. It is closed when the debouncer stops.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Run groups events until ctx is done. A batch is emitted once no event
// arrived for the delay. Events arriving while a batch waits for its
// consumer are merged into that batch instead of forming a new one.
func (d *Debouncer) Run(ctx context.Context) {
	defer close(d.output)

	timer := time.NewTimer(d.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var timerC <-chan time.Time
	pending := make(map[string]ChangeEvent)
	ready := make(map[string]ChangeEvent)

	for {
		var out chan<- []ChangeEvent
		var batch []ChangeEvent
		if len(ready) > 0 {
			out = d.output
			batch = sortedEvents(ready)
		}

		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			pending[event.Path] = event
			timer.Reset(d.delay)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			for path, event := range pending {
				ready[path] = event
			}
			pending = make(map[string]ChangeEvent)
		case out <- batch:
			ready = make(map[string]ChangeEvent)
		}
	}
}

func sortedEvents(events map[string]ChangeEvent) []ChangeEvent {
	out := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatcherError(err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounceDelay),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. An event is kept only if every filter
// accepts its path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddRecursive adds a directory and all subdirectories to watch
func (fw *FileWatcher) AddRecursive(root string) error {
	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}

	return filepath.WalkDir(cleanRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != cleanRoot && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start begins watching and returns the batch stream. The stream is
// closed, and the underlying watcher released, when ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) <-chan []ChangeEvent {
	fw.mutex.Lock()
	if fw.started {
		fw.mutex.Unlock()
		return fw.debouncer.Output()
	}
	fw.started = true
	fw.mutex.Unlock()

	go fw.debouncer.Run(ctx)
	go fw.watchLoop(ctx)

	return fw.debouncer.Output()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, errors.NewWatcherError(err), "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	info, statErr := os.Stat(event.Name)

	// New directories are watched too, so files created in them later
	// are seen.
	if statErr == nil && info.IsDir() && event.Op&fsnotify.Create == fsnotify.Create {
		if err := fw.AddRecursive(event.Name); err != nil {
			fw.logger.Warn(ctx, err, "Cannot watch new directory", "path", event.Name)
		}
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var modTime time.Time
	var size int64
	if statErr == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	fw.logger.Debug(ctx, "File changed", "path", event.Name, "type", eventType.String())
	fw.debouncer.Add(ctx, ChangeEvent{
		Type:    eventType,
		Path:    event.Name,
		ModTime: modTime,
		Size:    size,
	})
}

// Subscribe watches root recursively and returns debounced batches of the
// changes filter accepts. The stream never ends on its own; cancelling
// ctx closes it.
func Subscribe(ctx context.Context, root string, filter FileFilter, debounce time.Duration) (<-chan []ChangeEvent, error) {
	fw, err := NewFileWatcher(debounce, logging.FromContext(ctx))
	if err != nil {
		return nil, err
	}
	if filter != nil {
		fw.AddFilter(filter)
	}
	if err := fw.AddRecursive(root); err != nil {
		fw.watcher.Close()
		return nil, errors.NewWatcherError(err)
	}
	return fw.Start(ctx), nil
}

// NoTempFilter rejects editor swap and backup files.
func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "."),
		strings.HasPrefix(base, "#"),
		strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".tmp"):
		return false
	}
	return true
}
