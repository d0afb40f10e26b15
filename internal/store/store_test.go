package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// setupTestStore opens a store in a temp dir with a silent logger.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "projects.json")
	s, err := Open(path, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

// testProject builds a project with one image and one group.
func testProject(id string) schema.Project {
	ts := time.Date(2024, 6, 10, 6, 13, 20, 0, time.UTC)
	return schema.Project{
		ID:         id,
		Name:       "project " + id,
		FolderPath: "/tmp/" + id,
		Images: []schema.Image{{
			ID:        "a",
			Filename:  "a.png",
			Mime:      "image/png",
			Prompt:    "hello",
			AddedAt:   ts,
			UpdatedAt: ts,
		}},
		ImageGroups: []schema.Group{{
			ID:        "g1",
			Title:     "Page 1",
			ImageIDs:  []string{"a"},
			CreatedAt: ts,
			UpdatedAt: ts,
		}},
		CreatedAt: ts,
	}
}

// waitForPending polls until n callers are parked on the pending slot.
func waitForPending(t *testing.T, s *Store, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := 0
		if s.pending != nil {
			got = len(s.pending.waiters)
		}
		s.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending waiters", n)
}

func TestOpen_CreatesEmptyDocument(t *testing.T) {
	s := setupTestStore(t)

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("document not created: %v", err)
	}
	if string(data) != "[]\n" {
		t.Errorf("document = %q, want []", data)
	}

	projects, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("Load() = %d projects, want 0", len(projects))
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("", nil); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestLoad_MissingDocumentIsReinitialized(t *testing.T) {
	s := setupTestStore(t)
	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	projects, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("Load() = %v, want empty", projects)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("document should be recreated: %v", err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	want := []schema.Project{testProject("1"), testProject("2")}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v\nwant %+v", got, want)
	}

	// Saving what was loaded must not change the document.
	before, _ := os.ReadFile(s.Path())
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Error("save(load()) changed the document")
	}
}

func TestSave_NilIsEmptyArray(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save(nil) failed: %v", err)
	}
	data, _ := os.ReadFile(s.Path())
	if string(data) != "[]" {
		t.Errorf("document = %q, want []", data)
	}
}

func TestLoad_CorruptDegradesToEmpty(t *testing.T) {
	s := setupTestStore(t)

	if err := os.WriteFile(s.Path(), []byte(`[{"id": "1", "na`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	projects, err := s.Load()
	if err != nil {
		t.Fatalf("Load() should not fail on corrupt document: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("Load() = %d projects, want 0", len(projects))
	}
}

func TestLoad_CorruptRecoversFromBackup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := []schema.Project{testProject("1")}
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	// The second save backs up the first document.
	if err := s.Save(ctx, []schema.Project{testProject("1"), testProject("2")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Simulate a truncated document.
	if err := os.WriteFile(s.Path(), []byte(`[{"id":`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Errorf("Load() = %+v, want backup %+v", got, first)
	}
}

func TestSave_CorruptDocumentDoesNotOverwriteBackup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, []schema.Project{testProject("1")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := s.Save(ctx, []schema.Project{testProject("2")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	good, _ := os.ReadFile(s.BackupPath())

	if err := os.WriteFile(s.Path(), []byte("garbage"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Save(ctx, []schema.Project{testProject("3")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	after, _ := os.ReadFile(s.BackupPath())
	if string(after) != string(good) {
		t.Error("backup was replaced by a corrupt document")
	}
}

func TestSave_VerificationFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	want := []schema.Project{testProject("1")}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Simulate a torn write: only half of the payload reaches the disk.
	s.writeFile = func(path string, data []byte) error {
		return writeFileSync(path, data[:len(data)/2])
	}

	err := s.Save(ctx, []schema.Project{testProject("2")})
	if !errors.Is(err, ErrWriteVerification) {
		t.Fatalf("Save() error = %v, want ErrWriteVerification", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("previous document was not preserved: %+v", got)
	}
	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("tmp file should be removed after failed verification")
	}
}

func TestSave_QueuedSavesCollapse(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Hold the first write until the other two are queued behind it.
	release := make(chan struct{})
	var writes [][]byte
	var writesMu sync.Mutex
	s.writeFile = func(path string, data []byte) error {
		writesMu.Lock()
		first := len(writes) == 0
		writes = append(writes, data)
		writesMu.Unlock()
		if first {
			<-release
		}
		return writeFileSync(path, data)
	}

	p1 := []schema.Project{testProject("1")}
	p2 := []schema.Project{testProject("2")}
	p3 := []schema.Project{testProject("3")}

	errs := make(chan error, 3)
	go func() { errs <- s.Save(ctx, p1) }()

	// Wait until p1 is in flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		writesMu.Lock()
		n := len(writes)
		writesMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first write never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	go func() { errs <- s.Save(ctx, p2) }()
	waitForPending(t, s, 1)
	go func() { errs <- s.Save(ctx, p3) }()
	waitForPending(t, s, 2)

	close(release)

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Save() #%d failed: %v", i, err)
		}
	}

	writesMu.Lock()
	if len(writes) != 2 {
		t.Errorf("performed %d writes, want 2 (p2 superseded by p3)", len(writes))
	}
	writesMu.Unlock()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, p3) {
		t.Errorf("Load() = %+v, want last payload %+v", got, p3)
	}
}

func TestSave_BackToBackLastWriteWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	second := []schema.Project{{
		ID:          "1",
		Name:        "one",
		Images:      []schema.Image{},
		ImageGroups: []schema.Group{},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}

	errs := make(chan error, 2)
	go func() { errs <- s.Save(ctx, []schema.Project{}) }()
	waitForIdleOrWriting(s)
	go func() { errs <- s.Save(ctx, second) }()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Errorf("Load() = %+v, want %+v", got, second)
	}
}

// waitForIdleOrWriting gives the first goroutine a chance to start its write.
func waitForIdleOrWriting(s *Store) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		writing := s.writing
		s.mu.Unlock()
		if writing {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSave_ManyConcurrentWritersLeaveValidDocument(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Save(ctx, []schema.Project{testProject(fmt.Sprint(i))}); err != nil {
				t.Errorf("Save(%d) failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Load() = %d projects, want 1", len(got))
	}
}

func TestSave_CancelledContextStillWrites(t *testing.T) {
	s := setupTestStore(t)

	release := make(chan struct{})
	s.writeFile = func(path string, data []byte) error {
		<-release
		return writeFileSync(path, data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Save(ctx, []schema.Project{testProject("1")}) }()

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Save() error = %v, want context.Canceled", err)
	}

	close(release)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	got, _ := s.Load()
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("write should complete despite cancellation, got %+v", got)
	}
}

func TestUpdate_NoLostUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, func(projects []schema.Project) ([]schema.Project, bool, error) {
				return append(projects, testProject(fmt.Sprint(i))), true, nil
			})
			if err != nil {
				t.Errorf("Update(%d) failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != workers {
		t.Errorf("Load() = %d projects, want %d", len(got), workers)
	}
}

func TestUpdate_UnchangedSkipsWrite(t *testing.T) {
	s := setupTestStore(t)

	writes := 0
	s.writeFile = func(path string, data []byte) error {
		writes++
		return writeFileSync(path, data)
	}

	err := s.Update(context.Background(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		return projects, false, nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if writes != 0 {
		t.Errorf("unchanged Update wrote %d times", writes)
	}
}

func TestUpdate_PropagatesError(t *testing.T) {
	s := setupTestStore(t)
	boom := errors.New("boom")

	err := s.Update(context.Background(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		return nil, true, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want %v", err, boom)
	}
}
