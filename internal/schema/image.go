package schema

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SidecarExt is the extension of prompt sidecar files.
const SidecarExt = ".txt"

// imageExts is the fixed set of extensions recognised as images (lowercase, no dot).
var imageExts = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Image is one image file in a project folder plus its prompt text.
type Image struct {
	// ID is the filename stem; stable across rescans.
	ID string `json:"id"`
	// Filename is the actual file name on disk, including extension.
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	// Prompt mirrors the content of <ID>.txt, or "" when there is no sidecar.
	Prompt string `json:"prompt"`

	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the Image has valid field values.
func (img *Image) Validate() error {
	if img.ID == "" {
		return fmt.Errorf("id is required")
	}
	if img.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if ImageID(img.Filename) != img.ID {
		return fmt.Errorf("filename %q does not match id %q", img.Filename, img.ID)
	}
	return nil
}

// SidecarName returns the prompt file name for this image: {id}.txt
func (img *Image) SidecarName() string {
	return SidecarName(img.ID)
}

// IsImageFile reports whether name has one of the recognised image extensions.
// The comparison is case-insensitive.
func IsImageFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return imageExts[strings.ToLower(ext)]
}

// IsSidecarFile reports whether name is a prompt sidecar (.txt).
func IsSidecarFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), SidecarExt)
}

// ImageID derives an image ID from its filename by dropping the extension.
func ImageID(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MimeFor returns image/<ext> for filename, lowercased.
// "jpg" is reported as image/jpg to match what existing clients expect.
func MimeFor(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return "image/" + strings.ToLower(ext)
}

// SidecarName returns the prompt sidecar file name for an image ID.
func SidecarName(id string) string {
	return id + SidecarExt
}
