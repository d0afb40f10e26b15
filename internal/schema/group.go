package schema

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultGroupTitle is used when a group is created without a title.
const DefaultGroupTitle = "Untitled group"

// Group is a user-defined bucket of image IDs within a project.
// ImageIDs is a set stored as an ordered slice.
type Group struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageIDs    []string  `json:"imageIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewGroup creates an empty group with a fresh ID.
func NewGroup(title, description string) *Group {
	if title == "" {
		title = DefaultGroupTitle
	}
	now := time.Now().UTC()
	return &Group{
		ID:          "group-" + uuid.NewString(),
		Title:       title,
		Description: description,
		ImageIDs:    []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks if the Group has valid field values.
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	seen := make(map[string]bool, len(g.ImageIDs))
	for _, id := range g.ImageIDs {
		if seen[id] {
			return fmt.Errorf("duplicate image id %q in group %s", id, g.ID)
		}
		seen[id] = true
	}
	return nil
}

// Has reports whether the group contains imageID.
func (g *Group) Has(imageID string) bool {
	return slices.Contains(g.ImageIDs, imageID)
}

// Add appends imageID unless it is already present.
// Returns true if the group changed.
func (g *Group) Add(imageID string) bool {
	if g.Has(imageID) {
		return false
	}
	g.ImageIDs = append(g.ImageIDs, imageID)
	g.UpdatedAt = time.Now().UTC()
	return true
}

// Remove drops imageID from the group.
// Returns true if the group changed.
func (g *Group) Remove(imageID string) bool {
	idx := slices.Index(g.ImageIDs, imageID)
	if idx < 0 {
		return false
	}
	g.ImageIDs = slices.Delete(g.ImageIDs, idx, idx+1)
	g.UpdatedAt = time.Now().UTC()
	return true
}
