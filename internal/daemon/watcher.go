package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// EventOp is what happened to a watched file.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String names the operation for log lines.
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

// FileKind tells image files from prompt sidecars.
type FileKind int

const (
	// KindImage is an image file (png, jpg, ...).
	KindImage FileKind = iota
	// KindPrompt is a .txt prompt sidecar.
	KindPrompt
)

// String names the kind for log lines.
func (k FileKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// FileEvent is a change to an image or prompt file in a watched folder.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	Kind FileKind
	Op   EventOp
}

// FileWatcher watches a set of project folders for image and prompt changes.
// Folders are watched non-recursively. Hidden files are ignored.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	folders map[string]bool
}

// NewFileWatcher returns an idle watcher. Nothing is emitted until Start.
func NewFileWatcher() (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: w,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		folders: make(map[string]bool),
	}, nil
}

// Start adds each folder and begins emitting events.
//
// Folders that fail to resolve or watch are reported together in the
// returned error; the watcher still runs for the rest. Calling Start twice
// is an error.
func (fw *FileWatcher) Start(folders []string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return errors.New("file watcher is already started")
	}

	var failed []error
	for _, folder := range folders {
		if err := fw.addFolder(folder); err != nil {
			failed = append(failed, err)
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.loop()

	return errors.Join(failed...)
}

// addFolder registers one folder. Caller must hold fw.mu.
func (fw *FileWatcher) addFolder(folder string) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("failed to resolve folder %s: %w", folder, err)
	}
	if fw.folders[abs] {
		return nil
	}
	if err := fw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch folder %s: %w", abs, err)
	}
	fw.folders[abs] = true
	return nil
}

// Stop releases the fsnotify handle and closes Events and Errors once the
// loop has drained. A watcher that was never started only releases the handle.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	wasRunning := fw.running
	fw.running = false
	fw.mu.Unlock()

	if !wasRunning {
		return fw.watcher.Close()
	}

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events delivers image and prompt changes. Closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors delivers fsnotify errors. Closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// Folders returns the watched folders, sorted.
func (fw *FileWatcher) Folders() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	out := make([]string, 0, len(fw.folders))
	for f := range fw.folders {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// IsRunning reports whether Start has been called and Stop has not.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// loop filters raw fsnotify traffic into FileEvents until Stop.
func (fw *FileWatcher) loop() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case raw, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			ev, keep := fw.convertEvent(raw)
			if !keep {
				continue
			}
			select {
			case fw.events <- ev:
			case <-fw.done:
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps a raw event onto a FileEvent. The bool is false for
// hidden files, other file types, folders outside the watch set, chmod, and
// rewrites of image bytes.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return FileEvent{}, false
	}

	var kind FileKind
	switch {
	case schema.IsImageFile(base):
		kind = KindImage
	case schema.IsSidecarFile(base):
		kind = KindPrompt
	default:
		return FileEvent{}, false
	}

	if !fw.inWatchedFolder(event.Name) {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name arrives as its own create.
		op = OpDelete
	case event.Has(fsnotify.Write):
		// Rewriting image bytes does not change what the store records.
		if kind == KindImage {
			return FileEvent{}, false
		}
		op = OpModify
	default:
		return FileEvent{}, false
	}

	return FileEvent{
		Path: event.Name,
		Kind: kind,
		Op:   op,
	}, true
}

func (fw *FileWatcher) inWatchedFolder(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.folders[filepath.Dir(abs)]
}
