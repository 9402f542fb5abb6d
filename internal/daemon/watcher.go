package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new metadata file appeared.
	OpCreate EventOp = iota
	// OpModify indicates an existing metadata file was rewritten.
	OpModify
	// OpDelete indicates a metadata file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MirrorEvent reports a change to one partition's metadata file.
type MirrorEvent struct {
	// Path is the file that changed.
	Path string
	// Partition is the feed name taken from the file name, e.g. "recent".
	Partition string
	Op        EventOp
}

// PartitionFromFile extracts the partition name from a metadata file name
// such as nvdcve-1.1-2021.meta.
func PartitionFromFile(path string) (string, bool) {
	prefix, suffix, ok := strings.Cut(feed.MetadataFileName("*"), "*")
	if !ok {
		return "", false
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, suffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(base, prefix), suffix)
	if name == "" {
		return "", false
	}
	return name, true
}

// MirrorWatcher watches a mirror directory for partition metadata changes.
// A mirror updater rewrites the small .meta file after the feed archive, so
// only .meta events are reported.
type MirrorWatcher struct {
	watcher *fsnotify.Watcher
	events  chan MirrorEvent
	errors  chan error
	done    chan struct{}
	wg      stdsync.WaitGroup
	mu      stdsync.Mutex
	running bool
	stopped bool
	dir     string
}

// NewMirrorWatcher creates a watcher. It emits nothing until Start.
func NewMirrorWatcher() (*MirrorWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &MirrorWatcher{
		watcher: watcher,
		events:  make(chan MirrorEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (mw *MirrorWatcher) Start(dir string) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if mw.running {
		return fmt.Errorf("watcher already running")
	}
	if mw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	if err := mw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch mirror directory %s: %w", dir, err)
	}
	mw.dir = dir

	mw.running = true
	mw.wg.Add(1)
	go mw.processEvents()

	return nil
}

// Stop stops watching and closes the event and error channels. It blocks
// until the event loop has exited and is safe to call more than once.
func (mw *MirrorWatcher) Stop() error {
	mw.mu.Lock()
	if mw.stopped {
		mw.mu.Unlock()
		return nil
	}
	wasRunning := mw.running
	mw.running = false
	mw.stopped = true
	mw.mu.Unlock()

	close(mw.done)

	err := mw.watcher.Close()
	if wasRunning {
		mw.wg.Wait()
	}

	close(mw.events)
	close(mw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of metadata changes.
func (mw *MirrorWatcher) Events() <-chan MirrorEvent {
	return mw.events
}

// Errors returns the channel of watcher errors.
func (mw *MirrorWatcher) Errors() <-chan error {
	return mw.errors
}

// IsRunning reports whether the watcher is started and not stopped.
func (mw *MirrorWatcher) IsRunning() bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.running
}

func (mw *MirrorWatcher) processEvents() {
	defer mw.wg.Done()

	for {
		select {
		case <-mw.done:
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}

			if me, ok := convertEvent(event); ok {
				select {
				case mw.events <- me:
				case <-mw.done:
					return
				}
			}

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case mw.errors <- err:
			case <-mw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a MirrorEvent, dropping anything
// that is not a partition metadata file.
func convertEvent(event fsnotify.Event) (MirrorEvent, bool) {
	partition, ok := PartitionFromFile(event.Name)
	if !ok {
		return MirrorEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return MirrorEvent{}, false
	}

	return MirrorEvent{Path: event.Name, Partition: partition, Op: op}, true
}
