// Package config loads the notesync configuration file.
//
// The file is YAML. It is checked against an embedded CUE schema before
// being decoded over the defaults, so unknown keys and malformed values are
// reported with their path instead of being silently ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Transports.
const (
	TransportMemory    = "memory"
	TransportWebSocket = "websocket"
)

// Config is the full application configuration.
type Config struct {
	NotesDir    string            `yaml:"notes_dir"`
	Database    string            `yaml:"database"`
	Document    string            `yaml:"document"`
	ClientID    string            `yaml:"client_id"`
	LogLevel    string            `yaml:"log_level"`
	Sync        SyncConfig        `yaml:"sync"`
	Persist     PersistConfig     `yaml:"persist"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// SyncConfig configures the broadcast synchroniser.
type SyncConfig struct {
	Transport      string   `yaml:"transport"`
	RelayURL       string   `yaml:"relay_url"`
	RelayListen    string   `yaml:"relay_listen"`
	BatchInterval  Duration `yaml:"batch_interval"`
	DigestInterval Duration `yaml:"digest_interval"`
	ReconnectMin   Duration `yaml:"reconnect_min"`
	ReconnectMax   Duration `yaml:"reconnect_max"`
}

// PersistConfig configures the notes-directory persister.
type PersistConfig struct {
	Debounce Duration `yaml:"debounce"`

	// MaxWait caps how long a stream of edits can keep postponing a
	// write. Zero selects the persister default.
	MaxWait       Duration `yaml:"max_wait"`
	WatchDebounce Duration `yaml:"watch_debounce"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryBase     Duration `yaml:"retry_base"`
}

// MaintenanceConfig configures periodic pruning.
type MaintenanceConfig struct {
	Interval Duration `yaml:"interval"`

	// TombstoneHorizon is how many clock ticks a tombstone is kept before
	// compaction may drop it. Zero disables compaction.
	TombstoneHorizon int64 `yaml:"tombstone_horizon"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Document: "hypr-sync-persisted",
		LogLevel: "info",
		Sync: SyncConfig{
			Transport:     TransportMemory,
			RelayListen:   "127.0.0.1:7420",
			BatchInterval: Duration(50 * time.Millisecond),
			ReconnectMin:  Duration(100 * time.Millisecond),
			ReconnectMax:  Duration(5 * time.Second),
		},
		Persist: PersistConfig{
			Debounce:      Duration(250 * time.Millisecond),
			WatchDebounce: Duration(50 * time.Millisecond),
			MaxRetries:    3,
			RetryBase:     Duration(100 * time.Millisecond),
		},
		Maintenance: MaintenanceConfig{
			Interval:         Duration(10 * time.Minute),
			TombstoneHorizon: 100000,
		},
	}
}

// Error reports an invalid configuration file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %v", e.Err)
	}
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads path and returns the defaults overlaid with its contents.
// An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Parse validates and decodes YAML configuration over the defaults.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Err: err}
	}
	if raw != nil {
		if err := validateSchema(raw); err != nil {
			return Config{}, &Error{Err: err}
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Err: err}
	}
	return cfg, nil
}

// Validate checks constraints spanning several keys.
func (c Config) Validate() error {
	if c.Sync.Transport == TransportWebSocket && c.Sync.RelayURL == "" {
		return errors.New("sync.relay_url is required for the websocket transport")
	}
	if c.Sync.ReconnectMin > c.Sync.ReconnectMax {
		return fmt.Errorf("sync.reconnect_min (%s) exceeds sync.reconnect_max (%s)",
			c.Sync.ReconnectMin, c.Sync.ReconnectMax)
	}
	if c.Persist.MaxWait > 0 && c.Persist.MaxWait < c.Persist.Debounce {
		return fmt.Errorf("persist.max_wait (%s) is shorter than persist.debounce (%s)",
			c.Persist.MaxWait, c.Persist.Debounce)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schemaMu   sync.Mutex
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func validateSchema(raw map[string]any) error {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaDef.Err()
	})
	if schemaErr != nil {
		return schemaErr
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()
	return schemaDef.Unify(schemaCtx.Encode(raw)).Validate(cue.Concrete(true))
}
