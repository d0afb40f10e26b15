package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/promptshelf/promptshelf/internal/logging"
	"github.com/promptshelf/promptshelf/internal/scan"
	"github.com/promptshelf/promptshelf/internal/schema"
	"github.com/promptshelf/promptshelf/internal/store"
	"github.com/promptshelf/promptshelf/internal/ui"
)

// projectSummary is one row of `shelf projects`.
type projectSummary struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	FolderPath    string    `json:"folderPath" yaml:"folder_path"`
	FolderMissing bool      `json:"folderMissing" yaml:"folder_missing"`
	Images        int       `json:"images" yaml:"images"`
	Prompts       int       `json:"prompts" yaml:"prompts"`
	Groups        int       `json:"groups" yaml:"groups"`
	CreatedAt     time.Time `json:"createdAt" yaml:"created_at"`
}

func summarize(p *schema.Project) projectSummary {
	s := projectSummary{
		ID:         p.ID,
		Name:       p.Name,
		FolderPath: p.FolderPath,
		Images:     len(p.Images),
		Groups:     len(p.ImageGroups),
		CreatedAt:  p.CreatedAt,
	}
	s.FolderMissing = p.FolderPath != "" && !scan.IsDir(p.FolderPath)
	for _, img := range p.Images {
		if img.Prompt != "" {
			s.Prompts++
		}
	}
	return s
}

var projectsCmd = &cobra.Command{
	Use:     "projects",
	GroupID: "library",
	Short:   "List projects in the library",
	Long: `List every project with its folder and image counts.

--since takes a date (2025-01-31) or a natural-language expression such as
"yesterday", "last week" or "3 days ago", and keeps only projects created
after it.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		defer closeLog()

		output, _ := cmd.Flags().GetString("output")
		sinceText, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceText != "" {
			if since, err = parseSince(sinceText, time.Now()); err != nil {
				fatalf("%v", err)
			}
		}

		st, err := store.Open(cfg.ProjectsFile(), &store.Config{Logger: logging.New("store")})
		if err != nil {
			fatalf("opening store: %v", err)
		}
		projects, err := st.Load()
		if err != nil {
			fatalf("loading library: %v", err)
		}

		summaries := make([]projectSummary, 0, len(projects))
		for i := range projects {
			if !since.IsZero() && projects[i].CreatedAt.Before(since) {
				continue
			}
			summaries = append(summaries, summarize(&projects[i]))
		}

		if err := writeProjects(os.Stdout, output, summaries); err != nil {
			fatalf("%v", err)
		}
	},
}

// parseSince accepts an RFC 3339 timestamp, a plain date or a
// natural-language expression relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a date", text)
	}
	return r.Time, nil
}

func writeProjects(w io.Writer, format string, summaries []projectSummary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summaries); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		if len(summaries) == 0 {
			_, err := fmt.Fprintf(w, "%s No projects\n", ui.RenderWarn("⚠"))
			return err
		}
		rows := make([][]string, 0, len(summaries))
		for _, s := range summaries {
			folder := s.FolderPath
			switch {
			case folder == "":
				folder = ui.RenderMuted("(none)")
			case s.FolderMissing:
				folder = ui.RenderFail(folder + " (missing)")
			}
			rows = append(rows, []string{
				s.ID,
				s.Name,
				folder,
				strconv.Itoa(s.Images),
				strconv.Itoa(s.Prompts),
				strconv.Itoa(s.Groups),
			})
		}
		_, err := fmt.Fprintln(w, ui.Table([]string{"ID", "NAME", "FOLDER", "IMAGES", "PROMPTS", "GROUPS"}, rows))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func init() {
	projectsCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
	projectsCmd.Flags().String("since", "", "Only projects created after this date or expression")
	rootCmd.AddCommand(projectsCmd)
}
