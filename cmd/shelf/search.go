package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf/internal/index"
	"github.com/promptshelf/promptshelf/internal/logging"
	"github.com/promptshelf/promptshelf/internal/store"
	"github.com/promptshelf/promptshelf/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:     "search <terms>...",
	GroupID: "library",
	Short:   "Find images whose prompt or file name contains every term",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		defer closeLog()

		projectID, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")
		query := strings.Join(args, " ")

		st, err := store.Open(cfg.ProjectsFile(), &store.Config{Logger: logging.New("store")})
		if err != nil {
			fatalf("opening store: %v", err)
		}

		// The index is a cache; rebuild it so results reflect the library
		// even when no server has been running.
		ix, err := index.Open(cfg.IndexFile())
		if err != nil {
			fatalf("opening index: %v", err)
		}
		defer ix.Close()

		ctx := context.Background()
		if err := syncIndex(ctx, ix, st); err != nil {
			fatalf("%v", err)
		}

		hits, err := ix.Search(ctx, query, projectID, limit)
		if err != nil {
			fatalf("%v", err)
		}
		if len(hits) == 0 {
			fmt.Printf("%s No images match %q\n", ui.RenderWarn("⚠"), query)
			return
		}

		rows := make([][]string, 0, len(hits))
		for _, h := range hits {
			rows = append(rows, []string{h.ProjectName, h.Filename, truncate(h.Prompt, 60)})
		}
		fmt.Println(ui.Table([]string{"PROJECT", "FILE", "PROMPT"}, rows))
		fmt.Printf("%s\n", ui.RenderMuted(fmt.Sprintf("%d result(s)", len(hits))))
	},
}

func syncIndex(ctx context.Context, ix *index.Index, st store.Loader) error {
	if err := ix.InitSchema(ctx); err != nil {
		return fmt.Errorf("initializing index: %w", err)
	}
	projects, err := st.Load()
	if err != nil {
		return fmt.Errorf("loading library: %w", err)
	}
	return ix.Rebuild(ctx, projects)
}

// rebuildIndex opens the index at path, rebuilds it from st and closes it.
func rebuildIndex(path string, st store.Loader) error {
	ix, err := index.Open(path)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer ix.Close()
	return syncIndex(context.Background(), ix, st)
}

// truncate shortens s to at most n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	searchCmd.Flags().String("project", "", "Only search this project ID")
	searchCmd.Flags().IntP("limit", "n", index.DefaultLimit, "Maximum results")
	rootCmd.AddCommand(searchCmd)
}
