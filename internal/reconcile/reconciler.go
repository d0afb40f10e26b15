package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/scan"
	"github.com/promptshelf/promptshelf/internal/schema"
	"github.com/promptshelf/promptshelf/internal/store"
)

// reconciler implements the Reconciler interface.
type reconciler struct {
	store    store.Updater
	notifier notify.Notifier
	logger   *log.Logger
}

// New creates a Reconciler over st.
//
// notifier receives one projects-updated event per pass that changed the
// store; nil disables notification. If logger is nil, a default logger
// writing to stderr is used.
func New(st store.Updater, notifier notify.Notifier, logger *log.Logger) Reconciler {
	if notifier == nil {
		notifier = notify.Nop
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &reconciler{
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// ReconcileProject implements Reconciler.ReconcileProject.
func (r *reconciler) ReconcileProject(p *schema.Project) (Changes, error) {
	dir := p.FolderPath
	if !scan.IsDir(dir) {
		return Changes{Skipped: true}, nil
	}

	files, err := scan.ListImageFiles(dir)
	if err != nil {
		return Changes{Skipped: true}, err
	}

	p.SetDefaults()
	var ch Changes

	// Removals first, so a.png replaced by a.jpg is re-added in this pass.
	kept := p.Images[:0]
	var removed []string
	for _, img := range p.Images {
		if fileExists(filepath.Join(dir, img.Filename)) {
			kept = append(kept, img)
			continue
		}
		removed = append(removed, img.ID)
	}
	p.Images = kept
	for _, id := range removed {
		p.RemoveImageRefs(id)
		ch.Removed++
		r.logger.Printf("Removed image: %s/%s", p.Name, id)
	}

	// Additions, in listing order.
	known := make(map[string]bool, len(p.Images))
	for _, img := range p.Images {
		known[img.ID] = true
	}
	for _, name := range files {
		id := schema.ImageID(name)
		if known[id] {
			continue
		}
		img, err := scan.StatImage(dir, name)
		if err != nil {
			continue
		}
		p.Images = append(p.Images, img)
		known[id] = true
		ch.Added++
		r.logger.Printf("Added image: %s/%s", p.Name, name)
	}

	// Prompt and modification time refresh.
	for i := range p.Images {
		img := &p.Images[i]
		updated := false

		if prompt := scan.ReadPrompt(dir, img.ID); prompt != img.Prompt {
			img.Prompt = prompt
			updated = true
		}
		if mtime, err := scan.ModTime(dir, img.Filename); err == nil && !mtime.Equal(img.UpdatedAt) {
			img.UpdatedAt = mtime
			updated = true
		}
		if updated {
			ch.Updated++
		}
	}

	ch.PrunedRefs = p.PruneDanglingRefs()
	return ch, nil
}

// Pass implements Reconciler.Pass.
func (r *reconciler) Pass(ctx context.Context) (Result, error) {
	var result Result

	err := r.store.Update(ctx, func(projects []schema.Project) ([]schema.Project, bool, error) {
		result = Result{Projects: len(projects)}
		for i := range projects {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}

			ch, err := r.ReconcileProject(&projects[i])
			if err != nil {
				r.logger.Printf("WARNING: Failed to scan project %s (%s): %v",
					projects[i].Name, projects[i].FolderPath, err)
				result.Failed++
				continue
			}
			if ch.Skipped {
				result.Skipped++
				continue
			}
			result.Changes.add(ch)
		}
		return projects, result.Changes.Any(), nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to reconcile projects: %w", err)
	}

	if result.Changed() {
		r.logger.Printf("Reconciled %d projects: added=%d removed=%d updated=%d pruned=%d",
			result.Projects, result.Changes.Added, result.Changes.Removed,
			result.Changes.Updated, result.Changes.PrunedRefs)
		r.notifier.Notify(notify.NewEvent(notify.ProjectsUpdated))
	}
	return result, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
