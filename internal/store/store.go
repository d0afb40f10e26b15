package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// ErrWriteVerification is returned by Save when the written document could not
// be read back and parsed. The previous document is left in place.
var ErrWriteVerification = errors.New("written document failed verification")

// Loader reads the current project list.
type Loader interface {
	Load() ([]schema.Project, error)
}

// Saver replaces the document.
type Saver interface {
	Save(ctx context.Context, projects []schema.Project) error
}

// UpdateFunc mutates a freshly loaded project list. It returns the list to
// persist and whether anything changed; unchanged lists are not written.
type UpdateFunc func(projects []schema.Project) ([]schema.Project, bool, error)

// Updater runs a read-modify-write cycle against the document.
type Updater interface {
	Loader
	Update(ctx context.Context, fn UpdateFunc) error
}

// Config holds configuration for the store.
type Config struct {
	// DisableBackup skips writing <path>.bak before each replace.
	DisableBackup bool

	// Logger for store activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

// saveRequest is a queued write and everyone waiting on it.
type saveRequest struct {
	data    []byte
	waiters []chan error
}

var (
	_ Saver   = (*Store)(nil)
	_ Updater = (*Store)(nil)
)

// Store serializes all access to the JSON document at path.
type Store struct {
	path   string
	config *Config

	// updateMu guards Update's load → mutate → save section.
	updateMu sync.Mutex

	mu      sync.Mutex
	writing bool
	pending *saveRequest
	idle    []chan struct{}

	// writeFile is swapped out in tests to simulate torn writes.
	writeFile func(path string, data []byte) error
}

// Open returns a Store for the document at path, creating the parent
// directory and an empty document on first run.
func Open(path string, config *Config) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		path:      path,
		config:    config,
		writeFile: writeFileSync,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.initDocument(); err != nil {
			return nil, err
		}
		config.Logger.Printf("Initialized empty document at %s", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return s, nil
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// BackupPath returns the path of the last-known-good copy.
func (s *Store) BackupPath() string {
	return s.path + ".bak"
}

// Load reads the document.
//
// A missing document is initialized to an empty list. A document that fails
// to parse is reported and replaced, in memory only, by the backup copy if
// that parses, or by an empty list otherwise. Only unexpected I/O errors are
// returned.
func (s *Store) Load() ([]schema.Project, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := s.initDocument(); err != nil {
			return nil, err
		}
		return []schema.Project{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	projects, err := decode(data)
	if err == nil {
		return projects, nil
	}

	s.config.Logger.Printf("WARNING: %s is corrupt: %v", s.path, err)
	if backup, berr := s.loadBackup(); berr == nil {
		s.config.Logger.Printf("Recovered %d projects from %s", len(backup), s.BackupPath())
		return backup, nil
	}

	s.config.Logger.Printf("WARNING: no usable backup, treating store as empty")
	return []schema.Project{}, nil
}

// Save persists projects, replacing the document.
//
// Saves are serialized; see the package documentation for how queued saves
// collapse. Save blocks until the write carrying its payload (or the write
// that superseded it) has finished. Cancelling ctx stops the wait, not the
// write.
func (s *Store) Save(ctx context.Context, projects []schema.Project) error {
	if projects == nil {
		projects = []schema.Project{}
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal projects: %w", err)
	}

	done := make(chan error, 1)

	s.mu.Lock()
	if s.writing {
		if s.pending != nil {
			s.pending.data = data
			s.pending.waiters = append(s.pending.waiters, done)
		} else {
			s.pending = &saveRequest{data: data, waiters: []chan error{done}}
		}
		s.mu.Unlock()
	} else {
		s.writing = true
		s.mu.Unlock()
		go s.drain(&saveRequest{data: data, waiters: []chan error{done}})
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update loads the document, applies fn and saves the result if fn reports a
// change. Concurrent Updates run one at a time, and each waits for its own
// save to land before releasing the next.
func (s *Store) Update(ctx context.Context, fn UpdateFunc) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	projects, err := s.Load()
	if err != nil {
		return err
	}

	next, changed, err := fn(projects)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	return s.Save(context.WithoutCancel(ctx), next)
}

// Flush blocks until no write is in flight or queued.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.writing {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain writes req, then keeps taking the pending slot until it is empty.
func (s *Store) drain(req *saveRequest) {
	for req != nil {
		err := s.write(req.data)
		if err != nil {
			s.config.Logger.Printf("Error saving document: %v", err)
		}
		for _, w := range req.waiters {
			w <- err
		}

		s.mu.Lock()
		req = s.pending
		s.pending = nil
		if req == nil {
			s.writing = false
			for _, ch := range s.idle {
				close(ch)
			}
			s.idle = nil
		}
		s.mu.Unlock()
	}
}

// write replaces the document with data via tmp file, verification and rename.
func (s *Store) write(data []byte) error {
	tmp := s.path + ".tmp"

	if err := s.writeFile(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	written, err := os.ReadFile(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to read back %s: %v", ErrWriteVerification, tmp, err)
	}
	if _, err := decode(written); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWriteVerification, err)
	}

	if !s.config.DisableBackup {
		if err := s.backupCurrent(); err != nil {
			s.config.Logger.Printf("Warning: failed to back up document: %v", err)
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	return nil
}

// backupCurrent copies the current document to the backup path if it parses.
func (s *Store) backupCurrent() error {
	current, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := decode(current); err != nil {
		// Never overwrite a good backup with a corrupt document.
		return nil
	}
	return writeFileSync(s.BackupPath(), current)
}

func (s *Store) loadBackup() ([]schema.Project, error) {
	data, err := os.ReadFile(s.BackupPath())
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) initDocument() error {
	if err := writeFileSync(s.path, []byte("[]\n")); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", s.path, err)
	}
	return nil
}

// decode parses a document and normalizes nil slices.
func decode(data []byte) ([]schema.Project, error) {
	var projects []schema.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse projects: %w", err)
	}
	if projects == nil {
		projects = []schema.Project{}
	}
	for i := range projects {
		projects[i].SetDefaults()
	}
	return projects, nil
}

// writeFileSync writes data and fsyncs before closing.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
