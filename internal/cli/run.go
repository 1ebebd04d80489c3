package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/notesync/internal/loader"
)

// shutdownTimeout bounds the final flush of the synchroniser and persister.
const shutdownTimeout = 10 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NotesDir      string
	Database      string
	ClientID      string
	Transport     string
	RelayURL      string
	MetricsListen string

	// Ready is called once the app is running. Used by tests.
	Ready func(a *loader.Adapter, metricsAddr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Hydrate, sync and persist until interrupted",
		Long: `Hydrate the note store from the backing database, join the broadcast
channel and mirror every session to the notes directory until interrupted.

Example:
  notesync run --notes-dir ~/notes --db ~/hyprnote.db
  notesync run -c notesync.yaml --transport websocket --relay-url ws://127.0.0.1:7420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.NotesDir, "notes-dir", "", "notes directory (overrides notes_dir)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "backing SQLite database (overrides database)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "replica id (defaults to a fresh UUIDv7)")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "broadcast transport (memory|websocket)")
	cmd.Flags().StringVar(&opts.RelayURL, "relay-url", "", "relay base URL for the websocket transport")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

func runApp(opts *RunOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	overrideString(cmd, "notes-dir", &cfg.NotesDir, opts.NotesDir)
	overrideString(cmd, "db", &cfg.Database, opts.Database)
	overrideString(cmd, "client-id", &cfg.ClientID, opts.ClientID)
	overrideString(cmd, "transport", &cfg.Sync.Transport, opts.Transport)
	overrideString(cmd, "relay-url", &cfg.Sync.RelayURL, opts.RelayURL)
	overrideString(cmd, "metrics-listen", &cfg.Metrics.Listen, opts.MetricsListen)

	if cfg.NotesDir == "" {
		return NewExitError(ExitCommandError, "notes directory is required (--notes-dir or notes_dir)")
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	a, err := newApp(cfg, true, logWarning)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure", err)
	}
	defer a.close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.adapter.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	metricsAddr := ""
	if cfg.Metrics.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			shutdown(a.adapter)
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		metricsAddr = ln.Addr().String()
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		slog.Info("serving metrics", "addr", metricsAddr)
	}

	g.Go(func() error {
		interval := cfg.Maintenance.Interval.Std()
		if interval <= 0 {
			<-gctx.Done()
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.adapter.Maintain()
			}
		}
	})

	fmt.Fprintf(cmd.OutOrStdout(), "notesync running (client %s, notes %s). Press Ctrl-C to stop.\n",
		a.store.ClientID(), cfg.NotesDir)
	if opts.Ready != nil {
		opts.Ready(a.adapter, metricsAddr)
	}

	runErr := g.Wait()
	dirty := shutdown(a.adapter)

	if runErr != nil {
		return WrapExitError(ExitFailure, "runtime error", runErr)
	}
	if len(dirty) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d session(s) could not be persisted: %v", len(dirty), dirty))
	}
	slog.Info("notesync stopped")
	return nil
}

// shutdown flushes and stops the adapter and returns the sessions left
// dirty-unpersisted.
func shutdown(a *loader.Adapter) []string {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
	if p := a.Persister(); p != nil {
		return p.Dirty()
	}
	return nil
}
