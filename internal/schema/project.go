package schema

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Project is a managed folder of images plus its prompt and group metadata.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// FolderPath is the project's only data source.
	FolderPath string `json:"folderPath"`

	Images      []Image `json:"images"`
	ImageGroups []Group `json:"imageGroups"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewProject creates a project for folderPath with no images yet.
// An empty name defaults to the folder's base name.
func NewProject(name, folderPath string) *Project {
	if name == "" && folderPath != "" {
		name = filepath.Base(folderPath)
	}
	return &Project{
		ID:          uuid.NewString(),
		Name:        name,
		FolderPath:  folderPath,
		Images:      []Image{},
		ImageGroups: []Group{},
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks the project and everything it contains.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.FolderPath != "" && !filepath.IsAbs(p.FolderPath) {
		return fmt.Errorf("folderPath must be absolute (got %q)", p.FolderPath)
	}
	seen := make(map[string]bool, len(p.Images))
	for i := range p.Images {
		if err := p.Images[i].Validate(); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		if seen[p.Images[i].ID] {
			return fmt.Errorf("duplicate image id %q", p.Images[i].ID)
		}
		seen[p.Images[i].ID] = true
	}
	for i := range p.ImageGroups {
		if err := p.ImageGroups[i].Validate(); err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
	}
	return nil
}

// SetDefaults replaces nil slices so the document always carries arrays.
func (p *Project) SetDefaults() {
	if p.Images == nil {
		p.Images = []Image{}
	}
	if p.ImageGroups == nil {
		p.ImageGroups = []Group{}
	}
	for i := range p.ImageGroups {
		if p.ImageGroups[i].ImageIDs == nil {
			p.ImageGroups[i].ImageIDs = []string{}
		}
	}
}

// ImageIndex returns the position of the image with the given ID, or -1.
func (p *Project) ImageIndex(id string) int {
	return slices.IndexFunc(p.Images, func(img Image) bool { return img.ID == id })
}

// FindImage returns a pointer into p.Images, or nil.
func (p *Project) FindImage(id string) *Image {
	if i := p.ImageIndex(id); i >= 0 {
		return &p.Images[i]
	}
	return nil
}

// FindGroup returns a pointer into p.ImageGroups, or nil.
func (p *Project) FindGroup(id string) *Group {
	for i := range p.ImageGroups {
		if p.ImageGroups[i].ID == id {
			return &p.ImageGroups[i]
		}
	}
	return nil
}

// RemoveImage drops the image entry and every group reference to it.
// Returns true if the image was present.
func (p *Project) RemoveImage(id string) bool {
	idx := p.ImageIndex(id)
	if idx < 0 {
		return false
	}
	p.Images = slices.Delete(p.Images, idx, idx+1)
	p.RemoveImageRefs(id)
	return true
}

// RemoveImageRefs removes id from every group. Returns true if any group changed.
func (p *Project) RemoveImageRefs(id string) bool {
	changed := false
	for i := range p.ImageGroups {
		if p.ImageGroups[i].Remove(id) {
			changed = true
		}
	}
	return changed
}

// PruneDanglingRefs removes group references to images that no longer exist.
// Returns the number of references removed.
func (p *Project) PruneDanglingRefs() int {
	known := make(map[string]bool, len(p.Images))
	for _, img := range p.Images {
		known[img.ID] = true
	}

	removed := 0
	for i := range p.ImageGroups {
		g := &p.ImageGroups[i]
		kept := g.ImageIDs[:0]
		for _, id := range g.ImageIDs {
			if known[id] {
				kept = append(kept, id)
				continue
			}
			removed++
		}
		if len(kept) != len(g.ImageIDs) {
			g.ImageIDs = kept
			g.UpdatedAt = time.Now().UTC()
		}
	}
	return removed
}

// MoveToGroup places imageID in the target group and removes it from every
// other group, so an image belongs to at most one group.
// Returns true if anything changed.
func (p *Project) MoveToGroup(imageID, groupID string) (bool, error) {
	if p.FindImage(imageID) == nil {
		return false, fmt.Errorf("image %s not found", imageID)
	}
	target := p.FindGroup(groupID)
	if target == nil {
		return false, fmt.Errorf("group %s not found", groupID)
	}

	changed := false
	for i := range p.ImageGroups {
		g := &p.ImageGroups[i]
		if g.ID == groupID {
			continue
		}
		if g.Remove(imageID) {
			changed = true
		}
	}
	if target.Add(imageID) {
		changed = true
	}
	return changed, nil
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	c := *p
	c.Images = slices.Clone(p.Images)
	c.ImageGroups = make([]Group, len(p.ImageGroups))
	for i, g := range p.ImageGroups {
		g.ImageIDs = slices.Clone(g.ImageIDs)
		c.ImageGroups[i] = g
	}
	if p.Images == nil {
		c.Images = nil
	}
	if p.ImageGroups == nil {
		c.ImageGroups = nil
	}
	return &c
}

// CloneAll deep-copies a project list.
func CloneAll(projects []Project) []Project {
	if projects == nil {
		return nil
	}
	out := make([]Project, len(projects))
	for i := range projects {
		out[i] = *projects[i].Clone()
	}
	return out
}

// FindProject returns a pointer into projects, or nil.
func FindProject(projects []Project, id string) *Project {
	for i := range projects {
		if projects[i].ID == id {
			return &projects[i]
		}
	}
	return nil
}

// FindProjectByFolder returns the project bound to folderPath, or nil.
func FindProjectByFolder(projects []Project, folderPath string) *Project {
	clean := filepath.Clean(folderPath)
	for i := range projects {
		if projects[i].FolderPath != "" && filepath.Clean(projects[i].FolderPath) == clean {
			return &projects[i]
		}
	}
	return nil
}
