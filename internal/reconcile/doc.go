// Package reconcile merges what is on disk into the stored project list.
//
// Overview
//
// Each project is bound to a folder. A reconciliation pass loads the store
// fresh, rescans every project folder and applies the difference:
//
//	Project folder                     Stored project
//	     ├── a.png   ───────────────→  images[a]   (added if new)
//	     ├── a.txt   ───────────────→  images[a].prompt
//	     └── (b.png deleted)  ──────→  images[b] removed, group refs pruned
//
// Rules
//
//   - Removals run first: a stored image whose file is gone is dropped and
//     every group reference to it is removed.
//   - Additions are appended in filename order; existing entries keep their
//     position.
//   - Remaining entries get their prompt and modification time refreshed.
//   - Group references to images that no longer exist are pruned.
//
// A project whose folder is missing is skipped: its stored images stay as
// they are until the folder comes back or the project is removed. A folder
// that exists but cannot be listed is skipped the same way and reported.
//
// Batching
//
// Pass mutates every project inside a single store.Update, so a pass writes
// the document at most once and emits at most one projects-updated event.
// Nothing is written or announced when the pass found no difference.
//
// Usage
//
//	st, err := store.Open("data/projects.json", nil)
//	if err != nil {
//	    return err
//	}
//	r := reconcile.New(st, hub, nil)
//	result, err := r.Pass(ctx)
package reconcile
