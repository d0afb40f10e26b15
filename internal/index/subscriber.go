package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/store"
)

// Subscriber rebuilds the index whenever the store changes. Any number of
// events arriving while a rebuild runs collapse into one more rebuild.
type Subscriber struct {
	index  *Index
	store  store.Loader
	logger *log.Logger

	kick chan struct{}

	mu       sync.Mutex
	builds   int
	lastErr  error
	lastSync time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ notify.Notifier = (*Subscriber)(nil)

// NewSubscriber creates a subscriber for ix fed from st. If logger is nil, a
// default logger writing to stderr is used.
func NewSubscriber(ix *Index, st store.Loader, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		index:  ix,
		store:  st,
		logger: logger,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the rebuild worker.
func (s *Subscriber) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop stops the worker and waits for a running rebuild.
func (s *Subscriber) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Notify implements notify.Notifier. Every event type means the store may
// have changed, so all of them request a rebuild.
func (s *Subscriber) Notify(event notify.Event) {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Sync rebuilds the index from the store now.
func (s *Subscriber) Sync(ctx context.Context) error {
	projects, err := s.store.Load()
	if err != nil {
		return s.record(fmt.Errorf("failed to load projects: %w", err))
	}
	if err := s.index.Rebuild(ctx, projects); err != nil {
		return s.record(err)
	}
	return s.record(nil)
}

// Stats returns how many rebuilds ran, the last error and when the index
// was last rebuilt successfully.
func (s *Subscriber) Stats() (builds int, lastErr error, lastSync time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds, s.lastErr, s.lastSync
}

func (s *Subscriber) record(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if err == nil {
		s.builds++
		s.lastSync = time.Now().UTC()
	}
	return err
}

func (s *Subscriber) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.kick:
			if err := s.Sync(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Printf("Error rebuilding index: %v", err)
			}
		}
	}
}
