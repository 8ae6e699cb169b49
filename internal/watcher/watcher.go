// Package watcher reports file changes in debounced batches.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/scheduler"
)

// FileWatcher watches paths and hands handlers one batch of changes per quiet
// period.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *scheduler.Debouncer
	logger    logging.Logger
	filters   []FileFilter
	handlers  []ChangeHandler
	mutex     sync.RWMutex

	pendingMu sync.Mutex
	pending   []ChangeEvent
	output    chan []ChangeEvent
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

// ChangeHandler handles file change events
type ChangeHandler func(events []ChangeEvent) error

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithLogger sets the logger for watch and handler errors.
func WithLogger(logger logging.Logger) Option {
	return func(fw *FileWatcher) {
		if logger != nil {
			fw.logger = logger.WithComponent("watcher")
		}
	}
}

// WithTimers replaces the debounce timer factory.
func WithTimers(af scheduler.AfterFunc) Option {
	return func(fw *FileWatcher) {
		fw.debouncer = scheduler.New(fw.debouncer.Delay(), scheduler.WithTimers(af))
	}
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:   watcher,
		debouncer: scheduler.New(debounceDelay),
		logger:    logging.NewNopLogger(),
		filters:   make([]FileFilter, 0),
		handlers:  make([]ChangeHandler, 0),
		output:    make(chan []ChangeEvent, 10),
	}
	for _, opt := range opts {
		opt(fw)
	}

	return fw, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a path to watch
func (fw *FileWatcher) AddPath(path string) error {
	cleanPath, err := validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return fw.watcher.Add(cleanPath)
}

// AddFile watches a single file. The parent directory is watched instead so
// that editors which save by renaming a temporary file are still seen.
func (fw *FileWatcher) AddFile(path string) error {
	cleanPath, err := validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	fw.AddFilter(PathFilter(cleanPath))
	return fw.watcher.Add(filepath.Dir(cleanPath))
}

// validatePath cleans a path and refuses ones that climb out of where they
// start.
func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return filepath.Clean(path), nil
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	fw.debouncer.Stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
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
	if info, err := os.Stat(event.Name); err == nil {
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

	fw.enqueue(ChangeEvent{
		Type:    eventType,
		Path:    event.Name,
		ModTime: modTime,
		Size:    size,
	})
}

// enqueue adds an event to the pending batch and restarts the quiet period.
func (fw *FileWatcher) enqueue(event ChangeEvent) {
	fw.pendingMu.Lock()
	fw.pending = append(fw.pending, event)
	fw.pendingMu.Unlock()

	fw.debouncer.Schedule(fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.pendingMu.Lock()
	batch := Coalesce(fw.pending)
	fw.pending = fw.pending[:0]
	fw.pendingMu.Unlock()

	if len(batch) == 0 {
		return
	}
	select {
	case fw.output <- batch:
	default:
		fw.logger.Warn(context.Background(), nil, "Dropping change batch, handlers are behind",
			"events", len(batch))
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "File watcher handler failed", "events", len(events))
				}
			}
		}
	}
}

// Coalesce keeps the latest event per path, ordered by each path's first
// appearance in events.
func Coalesce(events []ChangeEvent) []ChangeEvent {
	index := make(map[string]int, len(events))
	out := make([]ChangeEvent, 0, len(events))
	for _, event := range events {
		if i, seen := index[event.Path]; seen {
			out[i] = event
			continue
		}
		index[event.Path] = len(out)
		out = append(out, event)
	}
	return out
}

// PathFilter admits exactly one file.
func PathFilter(path string) FileFilter {
	want := filepath.Clean(path)
	if abs, err := filepath.Abs(want); err == nil {
		want = abs
	}
	return func(p string) bool {
		got := filepath.Clean(p)
		if abs, err := filepath.Abs(got); err == nil {
			got = abs
		}
		return got == want
	}
}

// ExtFilter admits files with one of the given extensions.
func ExtFilter(exts ...string) FileFilter {
	return func(path string) bool {
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// YAMLFilter admits catalog files.
func YAMLFilter(path string) bool {
	return ExtFilter(".yaml", ".yml")(path)
}

func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

func NoGitFilter(path string) bool {
	return !strings.HasPrefix(path, ".git/") && !strings.Contains(path, "/.git/")
}
