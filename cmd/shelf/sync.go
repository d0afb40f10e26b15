package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf/internal/logging"
	"github.com/promptshelf/promptshelf/internal/reconcile"
	"github.com/promptshelf/promptshelf/internal/store"
	"github.com/promptshelf/promptshelf/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "library",
	Short:   "Reconcile every project with its folder once",
	Long: `Run a single reconciliation pass without starting the server.

For every project bound to an existing folder:
  - entries whose image file is gone are removed, with their group references
  - new image files are added
  - prompts are re-read from the .txt sidecars

Do not run this while 'shelf serve' is running against the same library.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		defer closeLog()

		st, err := store.Open(cfg.ProjectsFile(), &store.Config{Logger: logging.New("store")})
		if err != nil {
			fatalf("opening store: %v", err)
		}

		rec := reconcile.New(st, nil, logging.New("reconcile"))

		fmt.Printf("%s Reconciling %s...\n", ui.RenderAccent("↻"), cfg.ProjectsFile())
		start := time.Now()

		result, err := rec.Pass(context.Background())
		if err != nil {
			fatalf("%v", err)
		}

		if cfg.Index.Enabled {
			if err := rebuildIndex(cfg.IndexFile(), st); err != nil {
				fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), err)
			}
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		printResult(result)
	},
}

func printResult(r reconcile.Result) {
	fmt.Printf("   Projects: %d", r.Projects)
	if r.Skipped > 0 {
		fmt.Printf(" (%s)", ui.RenderWarn(fmt.Sprintf("%d skipped", r.Skipped)))
	}
	if r.Failed > 0 {
		fmt.Printf(" (%s)", ui.RenderFail(fmt.Sprintf("%d failed", r.Failed)))
	}
	fmt.Println()
	if !r.Changed() {
		fmt.Printf("   %s\n", ui.RenderMuted("Already in sync"))
		return
	}
	fmt.Printf("   Added: %d\n", r.Changes.Added)
	fmt.Printf("   Removed: %d\n", r.Changes.Removed)
	fmt.Printf("   Updated: %d\n", r.Changes.Updated)
	if r.Changes.PrunedRefs > 0 {
		fmt.Printf("   Group refs pruned: %d\n", r.Changes.PrunedRefs)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
