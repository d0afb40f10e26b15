package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf/internal/index"
	"github.com/promptshelf/promptshelf/internal/logging"
	"github.com/promptshelf/promptshelf/internal/store"
	"github.com/promptshelf/promptshelf/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "library",
	Short:   "Show library and index status",
	Long: `Display the library location, size and contents.

Shows:
  - Library file location, size and modification time
  - Number of projects, images and prompts
  - Projects whose folder is missing
  - Search index size, when enabled`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		defer closeLog()

		path := cfg.ProjectsFile()
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Library not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'shelf serve' or 'shelf sync' to create %s\n\n", path)
			return
		}
		if err != nil {
			fatalf("checking library: %v", err)
		}

		st, err := store.Open(path, &store.Config{Logger: logging.New("store")})
		if err != nil {
			fatalf("opening store: %v", err)
		}
		projects, err := st.Load()
		if err != nil {
			fatalf("loading library: %v", err)
		}

		var images, prompts int
		var missing []string
		for i := range projects {
			s := summarize(&projects[i])
			images += s.Images
			prompts += s.Prompts
			if s.FolderMissing {
				missing = append(missing, fmt.Sprintf("%s (%s)", s.Name, s.FolderPath))
			}
		}

		fmt.Printf("\n%s Library Status\n\n", ui.RenderAccent("■"))
		fmt.Printf("Location: %s\n", path)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Projects: %d\n", len(projects))
		fmt.Printf("Images: %d\n", images)
		fmt.Printf("Prompts: %d\n", prompts)

		if len(missing) > 0 {
			fmt.Printf("\n%s %d project folder(s) missing:\n", ui.RenderWarn("⚠"), len(missing))
			for _, m := range missing {
				fmt.Printf("   %s\n", m)
			}
		}

		if cfg.Index.Enabled {
			fmt.Println()
			printIndexStatus(cfg.IndexFile())
		}
		fmt.Println()
	},
}

func printIndexStatus(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Index: %s\n", ui.RenderMuted("not built"))
		return
	}
	ix, err := index.Open(path)
	if err != nil {
		fmt.Printf("Index: %s\n", ui.RenderFail(err.Error()))
		return
	}
	defer ix.Close()

	ctx := context.Background()
	if err := ix.InitSchema(ctx); err != nil {
		fmt.Printf("Index: %s\n", ui.RenderFail(err.Error()))
		return
	}
	count, err := ix.Count(ctx)
	if err != nil {
		fmt.Printf("Index: %s\n", ui.RenderFail(err.Error()))
		return
	}
	fmt.Printf("Index: %s (%d images)\n", path, count)
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
