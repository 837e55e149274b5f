// Package config implements the tenant and global configuration owner:
// an atomically-swapped, validated snapshot persisted to disk as TOML,
// following the clone-validate-persist-swap pattern used throughout the
// rest of this module's ambient stack.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/atomic"
)

// RemoteStorageKind selects which remote.Backend a deployment wires up.
type RemoteStorageKind string

const (
	RemoteStorageLocalFS RemoteStorageKind = "localfs"
	RemoteStorageS3      RemoteStorageKind = "s3"
	RemoteStorageGCS     RemoteStorageKind = "gcs"
	RemoteStorageAzure   RemoteStorageKind = "azure"
)

// Config is the full on-disk configuration for one pageserver process.
type Config struct {
	WorkDir                string            `toml:"workdir"`
	RemoteStorageKind      RemoteStorageKind `toml:"remote_storage_kind"`
	RemoteStorageBucket    string            `toml:"remote_storage_bucket"`
	RemoteStoragePrefix    string            `toml:"remote_storage_prefix"`
	MaxParallelSyncs       int               `toml:"max_parallel_syncs"`
	CheckpointDistanceMB   int               `toml:"checkpoint_distance_mb"`
	WalReceiverStatusEvery time.Duration     `toml:"wal_receiver_status_every"`
	CompressLayers         bool              `toml:"compress_layers"`
}

func Default() *Config {
	return &Config{
		MaxParallelSyncs:       8,
		CheckpointDistanceMB:   256,
		WalReceiverStatusEvery: 10 * time.Second,
		RemoteStorageKind:      RemoteStorageLocalFS,
	}
}

func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errConfig("workdir must be set")
	}
	if c.MaxParallelSyncs <= 0 {
		return errConfig("max_parallel_syncs must be positive")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return string(e) }

func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Owner guards a Config behind an atomic pointer swap: readers never
// block on a concurrent reload, and every read observes a fully formed
// snapshot. Every snapshot swapped in by Reload or Persist has passed
// Validate; until the first of those succeeds, Get returns Default(),
// which has no workdir and does not pass Validate.
type Owner struct {
	ptr  atomic.Pointer[Config]
	path string
}

func NewOwner(path string) *Owner {
	o := &Owner{path: path}
	o.ptr.Store(Default())
	return o
}

func (o *Owner) Get() *Config { return o.ptr.Load() }

// Reload re-reads the config file, validates the result, and swaps it
// in only if validation passes — a bad edit on disk never displaces a
// working in-memory config.
func (o *Owner) Reload() error {
	cfg, err := Load(o.path)
	if err != nil {
		return err
	}
	o.ptr.Store(cfg)
	return nil
}

func (o *Owner) Persist(mutate func(*Config)) error {
	clone := *o.Get()
	mutate(&clone)
	if err := clone.Validate(); err != nil {
		return err
	}
	if err := Save(o.path, &clone); err != nil {
		return err
	}
	o.ptr.Store(&clone)
	return nil
}
