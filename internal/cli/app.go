package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/notesync/internal/backing"
	"github.com/roach88/notesync/internal/broadcast"
	"github.com/roach88/notesync/internal/config"
	"github.com/roach88/notesync/internal/loader"
	"github.com/roach88/notesync/internal/persister"
	"github.com/roach88/notesync/internal/store"
)

// overrideString replaces *dst with the flag's value when the flag was set.
func overrideString(cmd *cobra.Command, name string, dst *string, value string) {
	if cmd.Flags().Changed(name) {
		*dst = value
	}
}

// app is a store with everything the loader needs to drive it.
type app struct {
	store   *store.Store
	adapter *loader.Adapter
	db      *backing.DB
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("error closing backing database", "error", err)
		}
	}
}

// newApp builds the store and loader from cfg. withSync selects whether the
// configured transport is wired in.
func newApp(cfg config.Config, withSync bool, onWarning func(persister.Warning)) (*app, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = store.NewClientID()
	}
	log := slog.Default()
	st := store.New(store.WithClientID(clientID), store.WithLogger(log))

	opts := loader.Options{
		Sync: broadcast.Options{
			Channel:        cfg.Document,
			BatchInterval:  cfg.Sync.BatchInterval.Std(),
			DigestInterval: cfg.Sync.DigestInterval.Std(),
			ReconnectMin:   cfg.Sync.ReconnectMin.Std(),
			ReconnectMax:   cfg.Sync.ReconnectMax.Std(),
		},
		Persist: persister.Options{
			Dir:           cfg.NotesDir,
			Debounce:      cfg.Persist.Debounce.Std(),
			MaxWait:       cfg.Persist.MaxWait.Std(),
			WatchDebounce: cfg.Persist.WatchDebounce.Std(),
			MaxRetries:    cfg.Persist.MaxRetries,
			RetryBase:     cfg.Persist.RetryBase.Std(),
			OnWarning:     onWarning,
		},
		TombstoneHorizon: cfg.Maintenance.TombstoneHorizon,
		Logger:           log,
	}

	a := &app{store: st}
	if cfg.Database != "" {
		db, err := backing.OpenReadOnly(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open backing database: %w", err)
		}
		a.db = db
		opts.Source = db
	}

	if withSync {
		switch cfg.Sync.Transport {
		case config.TransportWebSocket:
			opts.Transport = broadcast.NewWebSocketTransport(cfg.Sync.RelayURL)
		default:
			opts.Transport = broadcast.NewMemoryBus()
		}
	}

	a.adapter = loader.New(st, opts)
	slog.Debug("app configured", "client_id", clientID, "notes_dir", cfg.NotesDir, "database", cfg.Database)
	return a, nil
}

// logWarning reports persister warnings through slog.
func logWarning(w persister.Warning) {
	slog.Warn("notes warning", "kind", string(w.Kind), "session_id", w.SessionID, "path", w.Path, "error", w.Err)
}
