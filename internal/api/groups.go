package api

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/schema"
)

type groupRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type addToGroupRequest struct {
	ImageID string `json:"imageId"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var title, description string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Description != nil {
		description = *req.Description
	}
	g := schema.NewGroup(title, description)

	_, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		p.ImageGroups = append(p.ImageGroups, *g)
		return true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.config.Logger.Printf("Created group %s", g.Title)
	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	groupID := chi.URLParam(r, "groupID")

	var out schema.Group
	_, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		g := p.FindGroup(groupID)
		if g == nil {
			return false, ErrGroupNotFound
		}
		if req.Title != nil {
			g.Title = *req.Title
		}
		if req.Description != nil {
			g.Description = *req.Description
		}
		g.UpdatedAt = time.Now().UTC()
		out = *g
		out.ImageIDs = slices.Clone(g.ImageIDs)
		return true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteGroup drops the group. Its images stay in the project.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	_, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		idx := slices.IndexFunc(p.ImageGroups, func(g schema.Group) bool { return g.ID == groupID })
		if idx < 0 {
			return false, ErrGroupNotFound
		}
		p.ImageGroups = slices.Delete(p.ImageGroups, idx, idx+1)
		return true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeSuccess(w)
}

// handleAddToGroup moves an image into a group, taking it out of whichever
// group held it before.
func (s *Server) handleAddToGroup(w http.ResponseWriter, r *http.Request) {
	var req addToGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageID == "" {
		writeError(w, http.StatusBadRequest, "imageId is required")
		return
	}
	groupID := chi.URLParam(r, "groupID")

	changed := false
	_, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		if p.FindGroup(groupID) == nil {
			return false, ErrGroupNotFound
		}
		if p.FindImage(req.ImageID) == nil {
			return false, fmt.Errorf("%w: %s", ErrImageNotFound, req.ImageID)
		}
		var err error
		changed, err = p.MoveToGroup(req.ImageID, groupID)
		return changed, err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if changed {
		s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	}
	writeSuccess(w)
}

func (s *Server) handleRemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	imageID := chi.URLParam(r, "imageID")

	changed := false
	_, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		g := p.FindGroup(groupID)
		if g == nil {
			return false, ErrGroupNotFound
		}
		changed = g.Remove(imageID)
		return changed, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if changed {
		s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	}
	writeSuccess(w)
}
