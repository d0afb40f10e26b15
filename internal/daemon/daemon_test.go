package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/promptshelf/promptshelf/internal/reconcile"
	"github.com/promptshelf/promptshelf/internal/schema"
	"github.com/promptshelf/promptshelf/internal/store"
)

// setupTestDaemon opens a store with one project per folder and returns a
// daemon with short intervals and a silent logger.
func setupTestDaemon(t *testing.T, folders ...string) (*Daemon, *store.Store) {
	t.Helper()

	discard := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "projects.json"), &store.Config{Logger: discard})
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}

	var projects []schema.Project
	for _, folder := range folders {
		projects = append(projects, *schema.NewProject("", folder))
	}
	if err := st.Save(context.Background(), projects); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	d, err := NewWithConfig(st, reconcile.New(st, nil, discard), &Config{
		DebounceInterval: 20 * time.Millisecond,
		GraceInterval:    30 * time.Millisecond,
		Logger:           discard,
	})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return d, st
}

// runDaemon starts d in the background and stops it on cleanup.
func runDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	select {
	case <-d.Ready():
	case err := <-errc:
		t.Fatalf("Start() failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// storedImages returns the image IDs of the first stored project.
func storedImages(t *testing.T, st *store.Store) []string {
	t.Helper()

	projects, err := st.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	var ids []string
	for _, img := range projects[0].Images {
		ids = append(ids, img.ID)
	}
	return ids
}

func TestNewWithConfig(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "projects.json"), &store.Config{Logger: discard})
	if err != nil {
		t.Fatal(err)
	}
	r := reconcile.New(st, nil, discard)

	tests := []struct {
		name    string
		st      store.Loader
		r       reconcile.Reconciler
		wantErr bool
	}{
		{"valid", st, r, false},
		{"nil store", nil, r, true},
		{"nil reconciler", st, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.st, tt.r, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Stop()
			}
		})
	}
}

func TestDaemon_InitialPassAndWatch(t *testing.T) {
	folder := t.TempDir()
	if err := os.WriteFile(filepath.Join(folder, "a.png"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, st := setupTestDaemon(t, folder)
	runDaemon(t, d)

	if got := storedImages(t, st); len(got) != 1 || got[0] != "a" {
		t.Fatalf("after initial pass images = %v, want [a]", got)
	}
	if stats := d.Stats(); len(stats.Watched) != 1 || stats.Passes < 1 {
		t.Errorf("Stats() = %+v, want one watched folder and a pass", stats)
	}

	if err := os.WriteFile(filepath.Join(folder, "b.jpg"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "b to be added", func() bool {
		return len(storedImages(t, st)) == 2
	})

	if err := os.WriteFile(filepath.Join(folder, "b.txt"), []byte("sunset"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "b prompt to sync", func() bool {
		projects, _ := st.Load()
		img := projects[0].FindImage("b")
		return img != nil && img.Prompt == "sunset"
	})

	if err := os.Remove(filepath.Join(folder, "a.png")); err != nil {
		t.Fatal(err)
	}
	eventually(t, "a to be removed", func() bool {
		got := storedImages(t, st)
		return len(got) == 1 && got[0] == "b"
	})
}

func TestDaemon_LockDefersPass(t *testing.T) {
	folder := t.TempDir()
	d, st := setupTestDaemon(t, folder)
	runDaemon(t, d)

	deb := d.Debouncer()
	deb.Lock()

	if err := os.WriteFile(filepath.Join(folder, "a.png"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := storedImages(t, st); len(got) != 0 {
		deb.Unlock()
		t.Fatalf("pass ran while locked: images = %v", got)
	}
	if !d.Stats().Locked {
		t.Error("Stats().Locked = false while locked")
	}

	deb.Unlock()
	eventually(t, "deferred pass after unlock", func() bool {
		return len(storedImages(t, st)) == 1
	})
}

func TestDaemon_InitialPassWaitsForLock(t *testing.T) {
	folder := t.TempDir()
	if err := os.WriteFile(filepath.Join(folder, "a.png"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, st := setupTestDaemon(t, folder)
	deb := d.Debouncer()
	deb.Lock()
	runDaemon(t, d)

	time.Sleep(100 * time.Millisecond)
	if stats := d.Stats(); stats.Passes != 0 {
		deb.Unlock()
		t.Fatalf("Passes = %d while locked, want 0", stats.Passes)
	}
	if got := storedImages(t, st); len(got) != 0 {
		deb.Unlock()
		t.Fatalf("images = %v while locked, want none", got)
	}

	deb.Unlock()
	eventually(t, "initial pass after unlock", func() bool {
		return len(storedImages(t, st)) == 1
	})
}

func TestDaemon_RefreshWatchesNewProject(t *testing.T) {
	first := t.TempDir()
	d, st := setupTestDaemon(t, first)
	runDaemon(t, d)

	second := t.TempDir()
	err := st.Update(context.Background(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		return append(projects, *schema.NewProject("second", second)), true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Refresh(); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if got := d.Stats().Watched; len(got) != 2 {
		t.Fatalf("Watched = %v, want 2 folders", got)
	}

	if err := os.WriteFile(filepath.Join(second, "z.gif"), []byte("z"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "z in second project", func() bool {
		projects, _ := st.Load()
		return len(projects) == 2 && projects[1].FindImage("z") != nil
	})
}

func TestDaemon_RescanPicksUpReappearedFolder(t *testing.T) {
	parent := t.TempDir()
	folder := filepath.Join(parent, "later")

	d, st := setupTestDaemon(t, folder)
	d.config.RescanInterval = 50 * time.Millisecond
	runDaemon(t, d)

	if got := d.Stats().Watched; len(got) != 0 {
		t.Fatalf("Watched = %v, want none before the folder exists", got)
	}

	if err := os.Mkdir(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(folder, "a.webp"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, "rescan to pick up the folder", func() bool {
		return len(storedImages(t, st)) == 1 && len(d.Stats().Watched) == 1
	})
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, _ := setupTestDaemon(t, t.TempDir())
	runDaemon(t, d)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	d.Trigger()
}
