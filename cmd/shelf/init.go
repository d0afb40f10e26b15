package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/promptshelf/promptshelf/internal/config"
	"github.com/promptshelf/promptshelf/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init [path]",
	GroupID: "server",
	Short:   "Write a config file",
	Long: `Write a shelf.toml config file with the default settings.

When stdin is a terminal, a short form asks for the port, data directory and
whether to keep a search index. Use --yes to accept the defaults without
prompting. An existing file is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		yes, _ := cmd.Flags().GetBool("yes")

		cfg := config.Default()
		if !yes && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptConfig(cfg); err != nil {
				fatalf("%v", err)
			}
		}

		if err := cfg.Validate(); err != nil {
			fatalf("%v", err)
		}
		if err := config.Init(path, cfg); err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Start the server with 'shelf serve'\n")
	},
}

// promptConfig asks for the settings people usually change.
func promptConfig(cfg *config.Config) error {
	port := strconv.Itoa(cfg.Server.Port)
	dataDir := cfg.Data.Dir
	indexEnabled := cfg.Index.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Port").
				Description("HTTP port for the API and web UI").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Data directory").
				Description("Where projects.json is kept").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("data directory is required")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Keep a prompt search index?").
				Value(&indexEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("config form: %w", err)
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}
	cfg.Server.Port = n
	cfg.Data.Dir = dataDir
	cfg.Index.Enabled = indexEnabled
	return nil
}

func init() {
	initCmd.Flags().BoolP("yes", "y", false, "Accept defaults without prompting")
	rootCmd.AddCommand(initCmd)
}
