// Package config defines the replication rule set and runtime settings,
// loaded from a single YAML file. Past-mode checkpoints are written back
// through Save, which replaces the file atomically so a crash mid-write
// never leaves a corrupt config behind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerRef identifies a chat by numeric id, numeric string, username or
// t.me link. It is resolved to a canonical numeric id once at startup.
type PeerRef string

// UnmarshalYAML accepts both integer and string scalars.
func (p *PeerRef) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var n int64
		if err2 := node.Decode(&n); err2 != nil {
			return err
		}
		s = strconv.FormatInt(n, 10)
	}
	*p = PeerRef(strings.TrimSpace(s))
	return nil
}

// IsEmpty reports whether the ref is blank. A blank source disables its
// rule silently.
func (p PeerRef) IsEmpty() bool {
	return strings.TrimSpace(string(p)) == ""
}

// AsID returns the ref as a numeric chat id, if it is one.
func (p PeerRef) AsID() (int64, bool) {
	id, err := strconv.ParseInt(string(p), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (p PeerRef) String() string { return string(p) }

// Forward is one replication rule: a source chat, its destinations, and
// the past-mode checkpoint. Offset is the last successfully processed
// source message id; it is mutated only by the past controller.
type Forward struct {
	Name   string    `yaml:"name,omitempty"`
	Use    bool      `yaml:"use"`
	Source PeerRef   `yaml:"source"`
	Dest   []PeerRef `yaml:"dest"`
	Offset int       `yaml:"offset"`
	End    int       `yaml:"end,omitempty"`
}

// LiveSettings configures continuous sync.
type LiveSettings struct {
	// SequentialUpdates is accepted for compatibility with older config
	// files; updates are always handled in arrival order.
	SequentialUpdates bool `yaml:"sequential_updates"`
	// DeleteSync enables propagating source deletions to the copies.
	DeleteSync bool `yaml:"delete_sync"`
	// DeleteOnEdit is a marker text: editing a tracked message to exactly
	// this string deletes the source and all copies instead of editing.
	DeleteOnEdit string `yaml:"delete_on_edit"`
	// AlbumFlushTimeout is the quiet period after the last album member
	// before the buffered group is released.
	AlbumFlushTimeout time.Duration `yaml:"album_flush_timeout"`
	// KeepLast bounds the tracked-message map in long-running sessions.
	KeepLast int `yaml:"keep_last"`
}

// PastSettings configures historical replay.
type PastSettings struct {
	// Delay is the courtesy pause between forwarded units.
	Delay time.Duration `yaml:"delay"`
}

// LoginConfig holds transport credentials. A session string implies a
// user account; a bot token implies a bot account.
type LoginConfig struct {
	APIID         int    `yaml:"api_id"`
	APIHash       string `yaml:"api_hash"`
	SessionString string `yaml:"session_string,omitempty"`
	BotToken      string `yaml:"bot_token,omitempty"`
	SessionFile   string `yaml:"session_file,omitempty"`
}

// Config is the whole persisted configuration.
type Config struct {
	Login             LoginConfig  `yaml:"login"`
	Forwards          []Forward    `yaml:"forwards"`
	ShowForwardedFrom bool         `yaml:"show_forwarded_from"`
	Live              LiveSettings `yaml:"live"`
	Past              PastSettings `yaml:"past"`
	Stages            StagesConfig `yaml:"stages"`
}

const (
	DefaultAlbumFlushTimeout = 600 * time.Millisecond
	DefaultDeleteOnEdit      = ".deleteMe"
	DefaultKeepLast          = 10000
	maxPastDelay             = 10 * time.Second
)

// Default returns a config with all tunables at their defaults.
func Default() *Config {
	return &Config{
		Live: LiveSettings{
			DeleteOnEdit:      DefaultDeleteOnEdit,
			AlbumFlushTimeout: DefaultAlbumFlushTimeout,
			KeepLast:          DefaultKeepLast,
		},
	}
}

// PostProcess fills defaults and clamps out-of-range values.
func (c *Config) PostProcess() error {
	if c.Live.AlbumFlushTimeout <= 0 {
		c.Live.AlbumFlushTimeout = DefaultAlbumFlushTimeout
	}
	if c.Live.KeepLast <= 0 {
		c.Live.KeepLast = DefaultKeepLast
	}
	if c.Past.Delay < 0 {
		c.Past.Delay = 0
	}
	if c.Past.Delay > maxPastDelay {
		c.Past.Delay = maxPastDelay
	}
	for i := range c.Forwards {
		f := &c.Forwards[i]
		if f.Offset < 0 {
			return fmt.Errorf("forward %q: negative offset", f.Name)
		}
		if f.End != 0 && f.End < f.Offset {
			return fmt.Errorf("forward %q: end %d before offset %d", f.Name, f.End, f.Offset)
		}
	}
	return nil
}

// Load reads and validates the config file at path. A missing file yields
// the defaults rather than an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		return cfg, cfg.PostProcess()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory,
// fsync, then rename over the canonical path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
