package scan

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// writeFiles creates each name in dir with the given content.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func TestFolder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.PNG":     "png",
		"a.jpg":     "jpg",
		"a.txt":     "a cat on a mat",
		"c.webp":    "webp",
		"notes.txt": "orphan prompt",
		"readme.md": "ignored",
	})
	if err := os.Mkdir(filepath.Join(dir, "nested.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	images, err := Folder(dir)
	if err != nil {
		t.Fatalf("Folder() failed: %v", err)
	}

	tests := []struct {
		id       string
		filename string
		mime     string
		prompt   string
	}{
		{"a", "a.jpg", "image/jpg", "a cat on a mat"},
		{"b", "b.PNG", "image/png", ""},
		{"c", "c.webp", "image/webp", ""},
	}
	if len(images) != len(tests) {
		t.Fatalf("got %d images, want %d: %+v", len(images), len(tests), images)
	}
	for i, tt := range tests {
		img := images[i]
		if img.ID != tt.id || img.Filename != tt.filename || img.Mime != tt.mime || img.Prompt != tt.prompt {
			t.Errorf("images[%d] = %+v, want id=%s filename=%s mime=%s prompt=%q",
				i, img, tt.id, tt.filename, tt.mime, tt.prompt)
		}
		if img.AddedAt.IsZero() || img.UpdatedAt.IsZero() {
			t.Errorf("images[%d] has zero timestamps", i)
		}
		if img.UpdatedAt.Location() != time.UTC || img.AddedAt.Location() != time.UTC {
			t.Errorf("images[%d] timestamps not in UTC", i)
		}
	}
}

func TestFolder_DuplicateStemFirstWins(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.png": "png",
		"a.jpg": "jpg",
	})

	images, err := Folder(dir)
	if err != nil {
		t.Fatalf("Folder() failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	if images[0].Filename != "a.jpg" {
		t.Errorf("Filename = %s, want a.jpg", images[0].Filename)
	}
}

func TestFolder_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"one.png":    "1",
		"one.txt":    "first",
		"two.gif":    "2",
		"three.jpeg": "3",
	})

	first, err := Folder(dir)
	if err != nil {
		t.Fatalf("Folder() failed: %v", err)
	}
	second, err := Folder(dir)
	if err != nil {
		t.Fatalf("Folder() failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("scans differ:\n first=%+v\nsecond=%+v", first, second)
	}
}

func TestFolder_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	writeFiles(t, dir, map[string]string{"plain.txt": "x"})

	tests := []struct {
		name     string
		path     string
		notExist bool
	}{
		{"missing folder", filepath.Join(dir, "gone"), true},
		{"not a directory", file, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Folder(tt.path)
			if err == nil {
				t.Fatal("Folder() expected error, got nil")
			}
			if IsNotExist(err) != tt.notExist {
				t.Errorf("IsNotExist(%v) = %v, want %v", err, !tt.notExist, tt.notExist)
			}
		})
	}
}

func TestFolder_EmptyFolder(t *testing.T) {
	images, err := Folder(t.TempDir())
	if err != nil {
		t.Fatalf("Folder() failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("got %d images, want 0", len(images))
	}
}

func TestReadPrompt(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "line one\nline two\n"})

	if got := ReadPrompt(dir, "a"); got != "line one\nline two\n" {
		t.Errorf("ReadPrompt(a) = %q", got)
	}
	if got := ReadPrompt(dir, "missing"); got != "" {
		t.Errorf("ReadPrompt(missing) = %q, want empty", got)
	}
}

func TestStatImage_TimestampsFollowFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.png": "png"})

	mtime := time.Date(2024, 6, 10, 6, 13, 20, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(dir, "a.png"), mtime, mtime); err != nil {
		t.Fatal(err)
	}

	img, err := StatImage(dir, "a.png")
	if err != nil {
		t.Fatalf("StatImage() failed: %v", err)
	}
	if !img.UpdatedAt.Equal(mtime) {
		t.Errorf("UpdatedAt = %v, want %v", img.UpdatedAt, mtime)
	}

	got, err := ModTime(dir, "a.png")
	if err != nil {
		t.Fatalf("ModTime() failed: %v", err)
	}
	if !got.Equal(mtime) {
		t.Errorf("ModTime() = %v, want %v", got, mtime)
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"f.txt": ""})

	tests := []struct {
		path string
		want bool
	}{
		{dir, true},
		{filepath.Join(dir, "f.txt"), false},
		{filepath.Join(dir, "nope"), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsDir(tt.path); got != tt.want {
			t.Errorf("IsDir(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
