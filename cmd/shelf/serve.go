package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptshelf/promptshelf/internal/api"
	"github.com/promptshelf/promptshelf/internal/daemon"
	"github.com/promptshelf/promptshelf/internal/dashboard"
	"github.com/promptshelf/promptshelf/internal/index"
	"github.com/promptshelf/promptshelf/internal/logging"
	"github.com/promptshelf/promptshelf/internal/notify"
	"github.com/promptshelf/promptshelf/internal/reconcile"
	"github.com/promptshelf/promptshelf/internal/store"
	"github.com/promptshelf/promptshelf/internal/ui"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the HTTP API, live updates and folder watcher",
	Long: `Start the shelf server in the foreground.

The server:
  1. Reconciles every project against its folder
  2. Watches the folders and reconciles again whenever images or prompts change
  3. Serves the HTTP API under /api and image files under /images
  4. Pushes change events to browsers connected to /ws

API writes hold the watcher back until they finish, so the watcher never
races a request that is writing into a project folder.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		defer closeLog()

		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}

		st, err := store.Open(cfg.ProjectsFile(), &store.Config{Logger: logging.New("store")})
		if err != nil {
			fatalf("opening store: %v", err)
		}

		fanout := notify.NewFanout(logging.New("notify"))

		hub := dashboard.NewHub(&dashboard.Config{Logger: logging.New("dashboard")})
		hub.Start()
		defer hub.Stop()
		fanout.Subscribe(hub)

		var searcher api.Searcher
		if cfg.Index.Enabled {
			ix, sub, err := openIndex(cfg.IndexFile(), st)
			if err != nil {
				fatalf("%v", err)
			}
			defer ix.Close()
			defer sub.Stop()
			fanout.Subscribe(sub)
			searcher = ix
		}

		rec := reconcile.New(st, fanout, logging.New("reconcile"))

		d, err := daemon.NewWithConfig(st, rec, &daemon.Config{
			DebounceInterval: cfg.Watch.Debounce,
			GraceInterval:    cfg.Watch.Grace,
			RescanInterval:   cfg.Watch.RescanInterval,
			Logger:           logging.New("daemon"),
		})
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		srv, err := api.NewWithConfig(api.Deps{
			Store:      st,
			Reconciler: rec,
			Notifier:   fanout,
			Lock:       d.Debouncer(),
			Watch:      d,
			Search:     searcher,
			Live:       http.HandlerFunc(hub.HandleWebSocket),
		}, &api.Config{
			RateLimit: cfg.API.RateLimit,
			Logger:    logging.New("api"),
		})
		if err != nil {
			fatalf("creating API: %v", err)
		}

		httpServer := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 2)
		go func() {
			if err := d.Start(ctx); err != nil {
				errCh <- fmt.Errorf("daemon: %w", err)
			}
		}()
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()

		fmt.Printf("%s shelf listening on http://localhost:%d\n", ui.RenderAccent("▶"), cfg.Server.Port)
		fmt.Printf("   Library: %s\n", cfg.ProjectsFile())
		fmt.Printf("   Live updates: ws://localhost:%d/ws\n", cfg.Server.Port)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		exitCode := 0
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			exitCode = 1
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping HTTP server: %v\n", err)
		}
		if err := d.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
		}
		if err := st.Flush(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing library: %v\n", err)
		}

		if exitCode != 0 {
			os.Exit(exitCode)
		}
		fmt.Printf("%s Stopped\n", ui.RenderPass("✓"))
	},
}

// openIndex opens the search index and starts a subscriber that keeps it in
// step with st. The first rebuild is queued immediately.
func openIndex(path string, st store.Loader) (*index.Index, *index.Subscriber, error) {
	ix, err := index.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index: %w", err)
	}
	if err := ix.InitSchema(context.Background()); err != nil {
		ix.Close()
		return nil, nil, fmt.Errorf("initializing index: %w", err)
	}

	sub := index.NewSubscriber(ix, st, logging.New("index"))
	sub.Start()
	sub.Notify(notify.NewEvent(notify.ProjectsUpdated))
	return ix, sub, nil
}

func init() {
	serveCmd.Flags().IntP("port", "p", 3001, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
