package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/promptshelf/promptshelf/internal/reconcile"
	"github.com/promptshelf/promptshelf/internal/scan"
	"github.com/promptshelf/promptshelf/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait after the last file event before
	// reconciling. This batches an image and its sidecar into one pass.
	DebounceInterval time.Duration

	// GraceInterval is how long to wait after an API write releases the lock
	// before running the pass it deferred.
	GraceInterval time.Duration

	// RescanInterval is how often to run a pass without a file event, which
	// picks up folders that reappeared. Zero disables it.
	RescanInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 50 * time.Millisecond,
		GraceInterval:    100 * time.Millisecond,
		RescanInterval:   30 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats is a snapshot of daemon activity.
type Stats struct {
	Passes     int64
	LastPass   time.Time
	LastResult reconcile.Result
	Watched    []string
	Locked     bool
}

// Daemon watches every project folder and reconciles the store when they
// change.
type Daemon struct {
	store      store.Loader
	reconciler reconcile.Reconciler
	config     *Config
	debouncer  *Debouncer

	passMu sync.Mutex

	mu         sync.Mutex
	watcher    *FileWatcher
	watched    []string
	closed     bool
	passes     int64
	lastPass   time.Time
	lastResult reconcile.Result

	ready     chan struct{}
	readyOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - st: the store, read to find which folders to watch
//   - r: the reconciler that runs each pass
//
// Use Start() to begin watching and reconciling.
func New(st store.Loader, r reconcile.Reconciler) (*Daemon, error) {
	return NewWithConfig(st, r, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(st store.Loader, r reconcile.Reconciler, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if r == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		store:      st,
		reconciler: r,
		config:     config,
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.debouncer = NewDebouncer(config.DebounceInterval, config.GraceInterval, d.runPass)
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run one reconciliation pass, or defer it while the write lock is held
// 2. Watch every existing project folder
// 3. Reconcile, debounced, whenever an image or prompt file changes
// 4. Rescan periodically when RescanInterval is set
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// A writer may already hold the lock; the pass then runs after Unlock.
	if !d.debouncer.RunNow() {
		d.config.Logger.Println("Initial pass deferred")
	}

	if err := d.refreshIfChanged(); err != nil {
		return fmt.Errorf("failed to build watch set: %w", err)
	}
	d.readyOnce.Do(func() { close(d.ready) })

	if d.config.RescanInterval > 0 {
		d.wg.Add(1)
		go d.rescanLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Ready is closed once the initial pass has run and the folders are watched.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Stop gracefully shuts down the daemon. It waits for a running pass.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	d.debouncer.Close()

	d.mu.Lock()
	fw := d.watcher
	d.watcher = nil
	d.mu.Unlock()
	if fw != nil {
		if err := fw.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Trigger requests a debounced reconciliation pass.
func (d *Daemon) Trigger() {
	d.debouncer.Trigger()
}

// Debouncer exposes the write-coordination lock for API handlers.
func (d *Daemon) Debouncer() *Debouncer {
	return d.debouncer
}

// Refresh tears down the watcher and rebuilds it from the folders of the
// projects currently in the store. Call it after a project is added, removed
// or rebound to another folder.
func (d *Daemon) Refresh() error {
	folders, err := d.validFolders()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.watcher = nil
	}
	d.watched = folders

	if len(folders) == 0 {
		d.config.Logger.Println("No folders to watch")
		return nil
	}

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(folders); err != nil {
		d.config.Logger.Printf("WARNING: %v", err)
	}
	d.watcher = fw

	d.wg.Add(1)
	go d.watchFileEvents(fw)

	d.config.Logger.Printf("Watching %d folders", len(fw.Folders()))
	return nil
}

// Stats returns a snapshot of daemon activity.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Passes:     d.passes,
		LastPass:   d.lastPass,
		LastResult: d.lastResult,
		Watched:    slices.Clone(d.watched),
		Locked:     d.debouncer.IsLocked(),
	}
}

// watchFileEvents forwards qualifying file events to the debouncer until fw
// is stopped.
func (d *Daemon) watchFileEvents(fw *FileWatcher) {
	defer d.wg.Done()

	events, errs := fw.Events(), fw.Errors()
	for events != nil || errs != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.config.Logger.Printf("File event: %s %s %s", event.Op, event.Kind, filepath.Base(event.Path))
			d.debouncer.Trigger()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// rescanLoop periodically requests a pass.
func (d *Daemon) rescanLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.debouncer.Trigger()
		}
	}
}

// runPass reconciles once and refreshes the watch set when the set of valid
// folders changed. Failures are logged; the daemon keeps running.
func (d *Daemon) runPass() {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.config.Logger.Printf("ERROR: reconciliation panicked: %v", r)
		}
	}()

	if d.ctx.Err() != nil {
		return
	}

	result, err := d.reconciler.Pass(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reconciling: %v", err)
		return
	}

	d.mu.Lock()
	d.passes++
	d.lastPass = time.Now().UTC()
	d.lastResult = result
	d.mu.Unlock()

	if err := d.refreshIfChanged(); err != nil {
		d.config.Logger.Printf("Error refreshing watch set: %v", err)
	}
}

// refreshIfChanged rebuilds the watcher when the valid folder set differs
// from what is being watched.
func (d *Daemon) refreshIfChanged() error {
	folders, err := d.validFolders()
	if err != nil {
		return err
	}

	d.mu.Lock()
	same := d.watcher != nil && slices.Equal(folders, d.watched)
	unset := d.watcher == nil && len(d.watched) == 0 && len(folders) == 0
	d.mu.Unlock()

	if same || unset {
		return nil
	}
	return d.Refresh()
}

// validFolders returns the sorted, de-duplicated folders of stored projects
// that currently exist on disk.
func (d *Daemon) validFolders() ([]string, error) {
	projects, err := d.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}

	var folders []string
	for _, p := range projects {
		if !scan.IsDir(p.FolderPath) {
			continue
		}
		abs, err := filepath.Abs(p.FolderPath)
		if err != nil {
			continue
		}
		folders = append(folders, abs)
	}
	slices.Sort(folders)
	return slices.Compact(folders), nil
}
