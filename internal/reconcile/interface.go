package reconcile

import (
	"context"

	"github.com/promptshelf/promptshelf/internal/schema"
)

// Reconciler keeps stored projects in step with their folders.
//
// Individual file failures never abort a pass: a file that cannot be read or
// stat'ed is treated as absent for that pass.
type Reconciler interface {
	// ReconcileProject applies the folder's current contents to p in place.
	//
	// Returns Changes{Skipped: true} with a nil error when the folder is
	// missing, and Skipped with an error when the folder exists but could not
	// be listed. p is left untouched in both cases.
	ReconcileProject(p *schema.Project) (Changes, error)

	// Pass reconciles every stored project against a fresh load of the
	// store, saves once and notifies once if anything changed.
	//
	// Returns an error only when the store could not be loaded or saved.
	Pass(ctx context.Context) (Result, error)
}

// Changes counts what ReconcileProject did to one project.
type Changes struct {
	Added      int
	Removed    int
	Updated    int
	PrunedRefs int
	Skipped    bool
}

// Any reports whether the project was modified.
func (c Changes) Any() bool {
	return c.Added > 0 || c.Removed > 0 || c.Updated > 0 || c.PrunedRefs > 0
}

func (c *Changes) add(o Changes) {
	c.Added += o.Added
	c.Removed += o.Removed
	c.Updated += o.Updated
	c.PrunedRefs += o.PrunedRefs
}

// Result summarises one pass.
type Result struct {
	Projects int
	Skipped  int
	Failed   int
	Changes  Changes
}

// Changed reports whether the pass wrote the store.
func (r Result) Changed() bool {
	return r.Changes.Any()
}
