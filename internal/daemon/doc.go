// Package daemon keeps the store in step with project folders while the
// server runs.
//
// # Architecture
//
// The daemon consists of three components:
//
//   - FileWatcher: fsnotify over every existing project folder
//   - Debouncer: coalesces file events into single reconciliation passes and
//     doubles as the write-coordination lock held by API writers
//   - Daemon: runs the initial pass, owns the watcher and rebuilds it when
//     the set of project folders changes
//
// # File Watching
//
//	fw, err := daemon.NewFileWatcher()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Stop()
//
//	if err := fw.Start([]string{"/photos/set-a", "/photos/set-b"}); err != nil {
//	    log.Printf("some folders are not watched: %v", err)
//	}
//
//	for event := range fw.Events() {
//	    fmt.Printf("%s %s %s\n", event.Op, event.Kind, event.Path)
//	}
//
// Only image files and .txt prompt sidecars produce events. Hidden files are
// ignored, and so are writes to image files: only adding or removing an image
// changes what the store records. A rename is reported as a delete; the new
// name arrives as a create.
//
// # Write Coordination
//
// An API handler that writes into a watched folder holds the lock for the
// whole request so the watcher does not reconcile a half-written change:
//
//	deb := d.Debouncer()
//	deb.Lock()
//	defer deb.Unlock()
//
// Triggers received while locked are deferred and replayed once, after a
// short grace delay, when the last lock is released. A pass that is already
// running when Lock is called is allowed to finish.
package daemon
