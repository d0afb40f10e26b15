// Command shelf serves and maintains a local library of AI-generated images
// and their prompts, kept in sync with the folders they live in.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/promptshelf/promptshelf/internal/config"
	"github.com/promptshelf/promptshelf/internal/logging"
)

var (
	cfgFile string
	envFile string
	verbose bool

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Local image and prompt manager backed by plain folders",
	Long: `shelf keeps a JSON library of projects in sync with image folders.

Each project is bound to a folder. Images in the folder (png, jpg, jpeg, gif,
webp) become entries, and a same-named .txt file next to an image holds its
prompt. Edits made through the web UI, in a file manager or by another tool
all converge on the same library.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with SHELF_* overrides")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding projects.json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr even when a log file is set")
	_ = v.BindPFlag("data.dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "library", Title: "Library:"},
	)
}

func initConfig() {
	used, err := config.Setup(v, cfgFile, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if used != "" && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
}

// loadConfig resolves the configuration and points the shared log output at
// the configured file. The returned function closes the log file.
func loadConfig() (*config.Config, func() error, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	closeLog := logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Quiet:      cfg.Log.File != "" && !verbose,
	})
	return cfg, closeLog, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
