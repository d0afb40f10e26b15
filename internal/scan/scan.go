// Package scan reads a project folder into a fresh list of image entries.
//
// Scanning is read-only: it never consults or mutates the store. Given the
// same folder contents it always produces the same result.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// Folder scans dir and returns one Image per image file, in filename order.
//
// When two image files share a stem (a.png and a.jpg), the first one by name
// wins and the other is ignored, since the stem is the image ID. Files that
// vanish or cannot be stat'ed mid-scan are skipped. An error is returned only
// when dir itself cannot be listed.
func Folder(dir string) ([]schema.Image, error) {
	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, err
	}

	images := make([]schema.Image, 0, len(files))
	for _, name := range files {
		img, err := StatImage(dir, name)
		if err != nil {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// ListImageFiles returns the image file names in dir, sorted by name and
// deduplicated by ID.
func ListImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", dir, err)
	}

	seen := make(map[string]bool, len(entries))
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !schema.IsImageFile(name) {
			continue
		}
		id := schema.ImageID(name)
		if seen[id] {
			continue
		}
		seen[id] = true
		names = append(names, name)
	}
	return names, nil
}

// StatImage builds the Image entry for one file in dir.
func StatImage(dir, filename string) (schema.Image, error) {
	info, err := os.Stat(filepath.Join(dir, filename))
	if err != nil {
		return schema.Image{}, err
	}
	if info.IsDir() {
		return schema.Image{}, fmt.Errorf("%s is a directory", filename)
	}

	id := schema.ImageID(filename)
	return schema.Image{
		ID:        id,
		Filename:  filename,
		Mime:      schema.MimeFor(filename),
		Prompt:    ReadPrompt(dir, id),
		AddedAt:   BirthTime(filepath.Join(dir, filename), info),
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

// ReadPrompt returns the content of <id>.txt in dir, or "" if it is missing
// or unreadable.
func ReadPrompt(dir, id string) string {
	data, err := os.ReadFile(filepath.Join(dir, schema.SidecarName(id)))
	if err != nil {
		return ""
	}
	return string(data)
}

// ModTime returns the modification time of dir/filename in UTC.
func ModTime(dir, filename string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(dir, filename))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().UTC(), nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsNotExist reports whether err means the folder or file is gone.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
