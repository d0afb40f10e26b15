package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/scan"
	"github.com/promptshelf/promptshelf/internal/schema"
)

type uploadResponse struct {
	Success bool         `json:"success"`
	Image   schema.Image `json:"image"`
}

type updatePromptRequest struct {
	Prompt string `json:"prompt"`
}

// boundProject loads a project and checks that its folder is usable.
func (s *Server) boundProject(id string) (*schema.Project, error) {
	p, err := s.loadProject(id)
	if err != nil {
		return nil, err
	}
	if p.FolderPath == "" {
		return nil, ErrNoFolder
	}
	if !scan.IsDir(p.FolderPath) {
		return nil, fmt.Errorf("%w: %s", ErrFolderMissing, p.FolderPath)
	}
	return p, nil
}

// handleUploadImage stores an uploaded image in the project folder. The image
// file is written first and the prompt sidecar second, so a watcher never
// sees a prompt without its image. The entry is recorded in the store before
// responding.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	p, err := s.boundProject(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".png"
	}
	if !schema.IsImageFile(ext) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image type %q", ext))
		return
	}
	prompt := r.FormValue("prompt")

	id, err := newImageID(p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filename := id + ext

	if err := writeNewFile(filepath.Join(p.FolderPath, filename), file); err != nil {
		s.fail(w, r, fmt.Errorf("failed to save image: %w", err))
		return
	}
	s.config.Logger.Printf("Saved image %s", filename)

	if prompt != "" {
		if err := os.WriteFile(filepath.Join(p.FolderPath, schema.SidecarName(id)), []byte(prompt), 0644); err != nil {
			s.fail(w, r, fmt.Errorf("failed to save prompt: %w", err))
			return
		}
	}

	img, err := scan.StatImage(p.FolderPath, filename)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to stat image: %w", err))
		return
	}
	img.Prompt = prompt

	_, err = s.mutateProject(r.Context(), p.ID, func(p *schema.Project) (bool, error) {
		if p.FindImage(img.ID) != nil {
			return false, nil
		}
		p.Images = append(p.Images, img)
		return true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Image: img})
}

// newImageID picks a millisecond timestamp ID that no image, leftover prompt
// sidecar or stored entry is using yet.
func newImageID(p *schema.Project) (string, error) {
	names, err := scan.ListImageFiles(p.FolderPath)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		taken[schema.ImageID(name)] = true
	}

	n := time.Now().UnixMilli()
	for {
		id := strconv.FormatInt(n, 10)
		if !taken[id] && p.FindImage(id) == nil && !exists(filepath.Join(p.FolderPath, schema.SidecarName(id))) {
			return id, nil
		}
		n++
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func writeNewFile(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// handleUpdatePrompt rewrites an image's prompt sidecar and the stored prompt.
func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req updatePromptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.boundProject(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img := p.FindImage(chi.URLParam(r, "imageID"))
	if img == nil {
		s.fail(w, r, ErrImageNotFound)
		return
	}

	if err := os.WriteFile(filepath.Join(p.FolderPath, img.SidecarName()), []byte(req.Prompt), 0644); err != nil {
		s.fail(w, r, fmt.Errorf("failed to save prompt: %w", err))
		return
	}

	_, err = s.mutateProject(r.Context(), p.ID, func(p *schema.Project) (bool, error) {
		stored := p.FindImage(img.ID)
		if stored == nil || stored.Prompt == req.Prompt {
			return false, nil
		}
		stored.Prompt = req.Prompt
		return true, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeSuccess(w)
}

// handleDeleteImage removes the image file and its prompt sidecar, then drops
// the entry and every group reference to it.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	p, err := s.boundProject(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img := p.FindImage(chi.URLParam(r, "imageID"))
	if img == nil {
		s.fail(w, r, ErrImageNotFound)
		return
	}

	for _, name := range []string{img.Filename, img.SidecarName()} {
		err := os.Remove(filepath.Join(p.FolderPath, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.fail(w, r, fmt.Errorf("failed to delete %s: %w", name, err))
			return
		}
	}
	s.config.Logger.Printf("Deleted image %s", img.Filename)

	_, err = s.mutateProject(r.Context(), p.ID, func(p *schema.Project) (bool, error) {
		return p.RemoveImage(img.ID), nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	writeSuccess(w)
}

func (s *Server) handleGetImageFile(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProject(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img := p.FindImage(chi.URLParam(r, "imageID"))
	if img == nil || p.FolderPath == "" {
		s.fail(w, r, ErrImageNotFound)
		return
	}
	s.serveImage(w, r, p.FolderPath, img.Filename)
}

// handleServeFile serves an image from a project folder by file name. Only
// plain image file names are accepted.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadProject(chi.URLParam(r, "projectID"))
	if err != nil || p.FolderPath == "" {
		writeError(w, http.StatusNotFound, ErrProjectNotFound.Error())
		return
	}
	name := chi.URLParam(r, "filename")
	if name != filepath.Base(name) || !schema.IsImageFile(name) {
		writeError(w, http.StatusNotFound, ErrImageNotFound.Error())
		return
	}
	s.serveImage(w, r, p.FolderPath, name)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, dir, name string) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrImageNotFound.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, ErrImageNotFound.Error())
		return
	}
	w.Header().Set("Content-Type", schema.MimeFor(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
