// Package notify carries "something changed" events from the store's writers
// to whoever renders or indexes the data.
//
// Delivery is best-effort and fire-and-forget: a subscriber that fails or
// panics never affects the writer or the other subscribers.
package notify

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// EventType names a change. The values are part of the UI wire format.
type EventType string

const (
	// ProjectsUpdated means "reload everything"; sent after a reconciliation
	// pass changed the store.
	ProjectsUpdated EventType = "projects-updated"
	ProjectCreated  EventType = "project-created"
	ProjectUpdated  EventType = "project-updated"
	ProjectDeleted  EventType = "project-deleted"
)

// Event is one change notification.
type Event struct {
	Type      EventType       `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	Project   *schema.Project `json:"project,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(typ EventType) Event {
	return Event{Type: typ, Timestamp: time.Now().UTC()}
}

// ForProject builds an event about a single project. The project is copied so
// later mutations by the caller are not observed by subscribers.
func ForProject(typ EventType, p *schema.Project) Event {
	e := NewEvent(typ)
	if p != nil {
		e.ProjectID = p.ID
		e.Project = p.Clone()
	}
	return e
}

// Notifier receives change events. Notify must not block for long.
type Notifier interface {
	Notify(event Event)
}

// Func adapts a plain function to Notifier.
type Func func(event Event)

// Notify implements Notifier.
func (f Func) Notify(event Event) { f(event) }

// Nop discards every event.
var Nop Notifier = Func(func(Event) {})

// Fanout delivers each event to every subscriber in registration order.
type Fanout struct {
	mu     sync.RWMutex
	subs   []Notifier
	logger *log.Logger
}

// NewFanout creates an empty fanout. If logger is nil, stderr is used.
func NewFanout(logger *log.Logger) *Fanout {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Fanout{logger: logger}
}

// Subscribe registers n for all future events.
func (f *Fanout) Subscribe(n Notifier) {
	if n == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, n)
}

// Len returns the number of subscribers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Notify implements Notifier.
func (f *Fanout) Notify(event Event) {
	f.mu.RLock()
	subs := make([]Notifier, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, sub := range subs {
		f.deliver(sub, event)
	}
}

func (f *Fanout) deliver(sub Notifier, event Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Printf("WARNING: subscriber panicked on %s: %v", event.Type, r)
		}
	}()
	sub.Notify(event)
}
