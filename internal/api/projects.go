package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/scan"
	"github.com/promptshelf/promptshelf/internal/schema"
)

type createProjectRequest struct {
	Name       string `json:"name"`
	FolderPath string `json:"folderPath"`
}

type updateProjectRequest struct {
	Name       *string `json:"name"`
	FolderPath *string `json:"folderPath"`
}

// loadProject returns a copy of the stored project with the given ID.
func (s *Server) loadProject(id string) (*schema.Project, error) {
	projects, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}
	p := schema.FindProject(projects, id)
	if p == nil {
		return nil, ErrProjectNotFound
	}
	return p.Clone(), nil
}

// mutateProject runs fn against the stored project with the given ID inside a
// single store update and returns a copy of the result.
func (s *Server) mutateProject(ctx context.Context, id string, fn func(p *schema.Project) (bool, error)) (*schema.Project, error) {
	var out *schema.Project
	err := s.store.Update(ctx, func(projects []schema.Project) ([]schema.Project, bool, error) {
		p := schema.FindProject(projects, id)
		if p == nil {
			return nil, false, ErrProjectNotFound
		}
		changed, err := fn(p)
		if err != nil {
			return nil, false, err
		}
		out = p.Clone()
		return projects, changed, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// absFolder cleans a user-supplied folder path into an absolute one.
func absFolder(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid folder path %q: %w", path, err)
	}
	return abs, nil
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.Load()
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to load projects: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProject(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateProject adds a project. The folder is optional; when given it is
// scanned right away so the response already lists its images.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	folder := ""
	if req.FolderPath != "" {
		var err error
		if folder, err = absFolder(req.FolderPath); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	p := schema.NewProject(req.Name, folder)
	if folder != "" {
		if _, err := s.reconciler.ReconcileProject(p); err != nil {
			s.config.Logger.Printf("WARNING: initial scan of %s failed: %v", folder, err)
		}
	}

	err := s.store.Update(r.Context(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		return append(projects, *p), true, nil
	})
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to save project: %w", err))
		return
	}

	s.config.Logger.Printf("Created project %s (%s)", p.Name, p.ID)
	s.notifier.Notify(notify.ForProject(notify.ProjectCreated, p))
	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	if folder != "" {
		s.refreshWatch()
	}
	writeJSON(w, http.StatusOK, p)
}

// handleOpenFolder binds an existing folder as a project. Opening a folder
// that already belongs to a project returns that project unchanged.
func (s *Server) handleOpenFolder(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderPath == "" {
		writeError(w, http.StatusBadRequest, "folderPath is required")
		return
	}
	folder, err := absFolder(req.FolderPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !scan.IsDir(folder) {
		s.fail(w, r, fmt.Errorf("%w: %s", ErrFolderMissing, folder))
		return
	}

	var (
		result  *schema.Project
		created bool
	)
	err = s.store.Update(r.Context(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		if existing := schema.FindProjectByFolder(projects, folder); existing != nil {
			result = existing.Clone()
			return projects, false, nil
		}

		p := schema.NewProject(req.Name, folder)
		if _, err := s.reconciler.ReconcileProject(p); err != nil {
			return nil, false, fmt.Errorf("failed to scan folder: %w", err)
		}
		result, created = p, true
		return append(projects, *p), true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if created {
		s.config.Logger.Printf("Opened folder %s as project %s", folder, result.ID)
		s.notifier.Notify(notify.ForProject(notify.ProjectCreated, result))
		s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
		s.refreshWatch()
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUpdateProject renames a project and/or rebinds it to another folder.
// Rebinding reconciles the project against the new folder at once.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	folder := ""
	if req.FolderPath != nil && *req.FolderPath != "" {
		var err error
		if folder, err = absFolder(*req.FolderPath); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !scan.IsDir(folder) {
			s.fail(w, r, fmt.Errorf("%w: %s", ErrFolderMissing, folder))
			return
		}
	}

	rebound := false
	p, err := s.mutateProject(r.Context(), chi.URLParam(r, "projectID"), func(p *schema.Project) (bool, error) {
		changed := false
		if req.Name != nil && *req.Name != "" && *req.Name != p.Name {
			p.Name = *req.Name
			changed = true
		}
		if folder != "" && folder != p.FolderPath {
			p.FolderPath = folder
			if _, err := s.reconciler.ReconcileProject(p); err != nil {
				return false, fmt.Errorf("failed to scan folder: %w", err)
			}
			changed, rebound = true, true
		}
		return changed, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.ForProject(notify.ProjectUpdated, p))
	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	if rebound {
		s.refreshWatch()
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProject forgets a project. Its folder is left untouched.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")

	err := s.store.Update(r.Context(), func(projects []schema.Project) ([]schema.Project, bool, error) {
		for i := range projects {
			if projects[i].ID == id {
				return append(projects[:i], projects[i+1:]...), true, nil
			}
		}
		return nil, false, ErrProjectNotFound
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.config.Logger.Printf("Deleted project %s", id)
	ev := notify.NewEvent(notify.ProjectDeleted)
	ev.ProjectID = id
	s.notifier.Notify(ev)
	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	s.refreshWatch()
	writeSuccess(w)
}
