package daemon

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testDelay = 20 * time.Millisecond
	testGrace = 30 * time.Millisecond
)

// counter counts runs and can hold each run open until released.
type counter struct {
	runs    atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	hold    chan struct{}
	started chan struct{}
}

func newCounter(blocking bool) *counter {
	c := &counter{started: make(chan struct{}, 16)}
	if blocking {
		c.hold = make(chan struct{})
	}
	return c
}

func (c *counter) run() {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	c.runs.Add(1)
	select {
	case c.started <- struct{}{}:
	default:
	}
	if c.hold != nil {
		<-c.hold
	}
	c.active.Add(-1)
}

// waitRuns polls until at least n runs happened or the deadline passes.
func waitRuns(t *testing.T, c *counter, n int32) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for c.runs.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d runs, want %d", c.runs.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// settle waits long enough for any armed timer to fire.
func settle() {
	time.Sleep(testDelay + testGrace + 100*time.Millisecond)
}

func TestDebouncer_BurstCoalesces(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	waitRuns(t, c, 1)
	settle()
	if got := c.runs.Load(); got != 1 {
		t.Errorf("burst of 10 triggers ran %d times, want 1", got)
	}
}

func TestDebouncer_TriggerDuringRunSchedulesAnother(t *testing.T) {
	c := newCounter(true)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Trigger()
	<-c.started

	// Arrives mid-run; must not be dropped.
	d.Trigger()
	d.Trigger()
	time.Sleep(testDelay * 3)

	if !d.IsRunning() {
		t.Fatal("first run should still be in progress")
	}
	c.hold <- struct{}{}

	<-c.started
	c.hold <- struct{}{}

	settle()
	if got := c.runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
	if c.overlap.Load() {
		t.Error("runs overlapped")
	}
}

func TestDebouncer_LockDefersUntilUnlock(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Lock()
	if !d.IsLocked() {
		t.Fatal("IsLocked() = false after Lock()")
	}
	for i := 0; i < 5; i++ {
		d.Trigger()
	}

	settle()
	if got := c.runs.Load(); got != 0 {
		t.Fatalf("ran %d times while locked, want 0", got)
	}

	d.Unlock()
	waitRuns(t, c, 1)
	settle()
	if got := c.runs.Load(); got != 1 {
		t.Errorf("runs after unlock = %d, want exactly 1", got)
	}
}

func TestDebouncer_PendingTimerDeferredByLock(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Trigger()
	d.Lock()

	settle()
	if got := c.runs.Load(); got != 0 {
		t.Fatalf("armed timer ran %d times under lock", got)
	}

	d.Unlock()
	waitRuns(t, c, 1)
}

func TestDebouncer_UnlockWithoutTriggerDoesNotRun(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Lock()
	d.Unlock()
	d.Unlock() // unbalanced release is ignored

	settle()
	if got := c.runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
	if d.IsLocked() {
		t.Error("IsLocked() = true after balanced unlock")
	}
}

func TestDebouncer_NestedLocks(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Lock()
	d.Lock()
	d.Trigger()

	d.Unlock()
	settle()
	if got := c.runs.Load(); got != 0 {
		t.Fatalf("ran %d times with one lock still held", got)
	}
	if !d.IsLocked() {
		t.Fatal("IsLocked() = false with one lock still held")
	}

	d.Unlock()
	waitRuns(t, c, 1)
}

func TestDebouncer_RunningPassFinishesUnderLock(t *testing.T) {
	c := newCounter(true)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	d.Trigger()
	<-c.started

	d.Lock()
	done := make(chan struct{})
	go func() {
		c.hold <- struct{}{}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("running pass did not finish under lock")
	}
	d.Unlock()
}

func TestDebouncer_ConcurrentTriggersNeverOverlap(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(time.Millisecond, time.Millisecond, c.run)
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Trigger()
				if j%10 == 0 {
					d.Lock()
					d.Unlock()
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	settle()

	if c.overlap.Load() {
		t.Error("runs overlapped")
	}
	if c.runs.Load() == 0 {
		t.Error("no runs happened")
	}
}

func TestDebouncer_RunNow(t *testing.T) {
	t.Run("open gate runs inline", func(t *testing.T) {
		c := newCounter(false)
		d := NewDebouncer(testDelay, testGrace, c.run)
		defer d.Close()

		if !d.RunNow() {
			t.Fatal("RunNow() = false, want true")
		}
		if got := c.runs.Load(); got != 1 {
			t.Errorf("runs = %d, want 1", got)
		}
	})

	t.Run("locked defers until unlock", func(t *testing.T) {
		c := newCounter(false)
		d := NewDebouncer(testDelay, testGrace, c.run)
		defer d.Close()

		d.Lock()
		if d.RunNow() {
			t.Fatal("RunNow() = true while locked")
		}
		settle()
		if got := c.runs.Load(); got != 0 {
			t.Fatalf("runs while locked = %d, want 0", got)
		}

		d.Unlock()
		waitRuns(t, c, 1)
	})

	t.Run("running queues one more", func(t *testing.T) {
		c := newCounter(true)
		d := NewDebouncer(testDelay, testGrace, c.run)
		defer d.Close()

		d.Trigger()
		<-c.started
		if d.RunNow() {
			t.Fatal("RunNow() = true while running")
		}
		c.hold <- struct{}{}
		<-c.started
		c.hold <- struct{}{}

		if c.overlap.Load() {
			t.Error("runs overlapped")
		}
	})
}

func TestDebouncer_CloseDropsPending(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)

	d.Trigger()
	d.Close()
	d.Trigger()

	settle()
	if got := c.runs.Load(); got != 0 {
		t.Errorf("runs after Close = %d, want 0", got)
	}
}

func TestWithWriteLock(t *testing.T) {
	c := newCounter(false)
	d := NewDebouncer(testDelay, testGrace, c.run)
	defer d.Close()

	errWrite := errors.New("disk full")

	tests := []struct {
		name    string
		fn      func() (int, error)
		want    int
		wantErr error
	}{
		{"success", func() (int, error) {
			if !d.IsLocked() {
				t.Error("not locked inside WithWriteLock")
			}
			return 42, nil
		}, 42, nil},
		{"error", func() (int, error) { return 0, errWrite }, 0, errWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithWriteLock(d, tt.fn)
			if got != tt.want || !errors.Is(err, tt.wantErr) {
				t.Errorf("WithWriteLock() = (%d, %v), want (%d, %v)", got, err, tt.want, tt.wantErr)
			}
			if d.IsLocked() {
				t.Error("lock leaked")
			}
		})
	}

	t.Run("panic", func(t *testing.T) {
		func() {
			defer func() { _ = recover() }()
			_, _ = WithWriteLock(d, func() (int, error) { panic("handler crashed") })
		}()
		if d.IsLocked() {
			t.Error("lock leaked after panic")
		}
	})
}
