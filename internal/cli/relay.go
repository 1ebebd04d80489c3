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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/notesync/internal/broadcast"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Listen string

	// Ready is called with the bound address once the relay accepts
	// connections. Used by tests.
	Ready func(addr string)
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	return newRelayCommand(&RelayOptions{RootOptions: rootOpts})
}

func newRelayCommand(opts *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Host a broadcast relay for cross-process sync",
		Long: `Host a stateless fan-out relay. Every process joined to the same
channel receives every message the others send; the relay keeps no state
and has no authority over the data.

Example:
  notesync relay --listen 127.0.0.1:7420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides sync.relay_listen)")
	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	addr := opts.Config.Sync.RelayListen
	overrideString(cmd, "listen", &addr, opts.Listen)
	if addr == "" {
		return NewExitError(ExitCommandError, "listen address is required (--listen or sync.relay_listen)")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := broadcast.NewRelay(slog.Default())
	srv := &http.Server{Handler: relay.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not closed by Shutdown.
		relay.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	bound := ln.Addr().String()
	slog.Info("relay listening", "addr", bound)
	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on ws://%s\n", bound)
	if opts.Ready != nil {
		opts.Ready(bound)
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	slog.Info("relay stopped")
	return nil
}
