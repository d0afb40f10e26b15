package daemon

import (
	"sync"
	"time"
)

// Debouncer turns bursts of triggers into single, non-overlapping runs of fn
// and holds runs back while a writer has it locked.
//
// Rules:
//   - Trigger arms a timer for the delay, resetting any armed timer, so a
//     burst of triggers produces one run.
//   - A trigger that fires while fn is running schedules one more run after
//     the current one returns.
//   - While locked, a trigger is remembered in a single slot. The last Unlock
//     re-arms the timer with the grace delay, so exactly one run follows.
//   - Locks nest: overlapping writers keep the gate closed until the last one
//     releases.
//
// Lock gates new starts only. A run already in progress when Lock is called
// finishes normally.
type Debouncer struct {
	fn    func()
	delay time.Duration
	grace time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	running  bool
	rerun    bool
	locks    int
	deferred bool
	closed   bool
	runs     sync.WaitGroup
}

// NewDebouncer creates a debouncer that calls fn delay after the last
// trigger, and grace after the last unlock when a trigger was deferred.
func NewDebouncer(delay, grace time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		fn:    fn,
		delay: delay,
		grace: grace,
	}
}

// Trigger requests a run. It never blocks on fn.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.locks > 0 {
		d.deferred = true
		return
	}
	d.schedule(d.delay)
}

// RunNow runs fn synchronously on the caller's goroutine when the gate is
// open and nothing is running. Otherwise the run is handed to the normal
// rules: deferred while locked, or queued behind the running fn. It reports
// whether fn ran.
func (d *Debouncer) RunNow() bool {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return false
	case d.locks > 0:
		d.deferred = true
		d.mu.Unlock()
		return false
	case d.running:
		d.rerun = true
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.running = true
	d.runs.Add(1)
	d.mu.Unlock()

	defer d.finish()
	d.fn()
	return true
}

// Lock closes the gate. Triggers received until the matching Unlock are
// deferred.
func (d *Debouncer) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locks++
}

// Unlock releases one Lock. When the last lock is released and a trigger was
// deferred, one run is scheduled after the grace delay.
func (d *Debouncer) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.locks == 0 {
		return
	}
	d.locks--
	if d.locks > 0 || !d.deferred || d.closed {
		return
	}
	d.deferred = false
	d.schedule(d.grace)
}

// IsLocked reports whether at least one Lock is held.
func (d *Debouncer) IsLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks > 0
}

// IsRunning reports whether fn is currently executing.
func (d *Debouncer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close cancels any armed timer, drops deferred triggers and waits for a
// running fn to return. Later triggers are ignored.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.deferred = false
	d.rerun = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.runs.Wait()
}

// schedule (re)arms the timer. Caller must hold d.mu.
func (d *Debouncer) schedule(after time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(after, d.fire)
}

// fire is called when the timer expires.
func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	switch {
	case d.closed:
		d.mu.Unlock()
		return
	case d.locks > 0:
		d.deferred = true
		d.mu.Unlock()
		return
	case d.running:
		d.rerun = true
		d.mu.Unlock()
		return
	}
	d.running = true
	d.runs.Add(1)
	d.mu.Unlock()

	defer d.finish()
	d.fn()
}

// finish clears the running state and schedules the follow-up run, if any.
func (d *Debouncer) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.runs.Done()

	d.running = false
	if !d.rerun || d.closed {
		return
	}
	d.rerun = false
	if d.locks > 0 {
		d.deferred = true
		return
	}
	d.schedule(d.delay)
}

// WithWriteLock runs fn with d locked and always releases the lock, including
// when fn panics.
func WithWriteLock[T any](d *Debouncer, fn func() (T, error)) (T, error) {
	d.Lock()
	defer d.Unlock()
	return fn()
}
