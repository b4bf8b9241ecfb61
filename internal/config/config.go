// Package config loads the per-vault settings file.
//
// The file lives next to the vault as config.yaml. A missing file yields
// Default(); an existing file must be a regular file owned by the current
// user with 0600 permissions.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/animectl/pkg/crypto"
	"github.com/forest6511/animectl/pkg/store"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// FileName is the name of the config file inside the vault directory.
const FileName = "config.yaml"

// CurrentVersion is the only supported config version.
const CurrentVersion = 1

// Environment variables.
const (
	EnvHome     = "ANIMECTL_HOME"
	EnvPassword = "ANIMECTL_PASSWORD"
	EnvNoColor  = "NO_COLOR"
)

// DefaultDirName is the vault directory under the user's home.
const DefaultDirName = ".animectl"

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// DefaultMCPMaxResults bounds list results returned to MCP clients.
const DefaultMCPMaxResults = 100

var (
	// ErrConfigInsecure is returned when the config file has insecure permissions.
	ErrConfigInsecure = errors.New("config: config file has insecure permissions")

	// ErrConfigSymlink is returned when the config file is a symlink.
	ErrConfigSymlink = errors.New("config: config file is a symlink")

	// ErrConfigNotOwnedByUser is returned when the config file is not owned by the current user.
	ErrConfigNotOwnedByUser = errors.New("config: config file not owned by current user")

	// ErrInvalidConfig is returned for values outside their allowed sets.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	errConfigNotFound = errors.New("config: config file not found")
)

// KDF overrides the Argon2id cost for newly wrapped keys. Zero keeps the
// built-in value.
type KDF struct {
	MemoryKiB uint32 `yaml:"memory_kib,omitempty"`
	Time      uint32 `yaml:"time,omitempty"`
	Threads   uint8  `yaml:"threads,omitempty"`
}

// MCP configures the MCP server.
type MCP struct {
	MaxResults int `yaml:"max_results"`
}

// Config represents config.yaml.
type Config struct {
	Version           int    `yaml:"version"`
	Storage           string `yaml:"storage"`
	Cipher            string `yaml:"cipher"`
	KDF               KDF    `yaml:"kdf"`
	MinutesPerEpisode int    `yaml:"minutes_per_episode"`
	Color             string `yaml:"color"`
	LogLevel          string `yaml:"log_level"`
	MCP               MCP    `yaml:"mcp"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:           CurrentVersion,
		Storage:           string(store.BackendFile),
		Cipher:            crypto.DefaultCipher,
		MinutesPerEpisode: watchlist.DefaultMinutesPerEpisode,
		Color:             ColorAuto,
		LogLevel:          "warn",
		MCP:               MCP{MaxResults: DefaultMCPMaxResults},
	}
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// ResolveDir returns the vault directory: ANIMECTL_HOME when set, else
// ~/.animectl.
func ResolveDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads config.yaml from dir. Fields missing from the file keep their
// defaults. The open is TOCTOU-safe: symlinks are rejected at open time and
// checks run on the opened descriptor.
func Load(dir string) (*Config, error) {
	cfg := Default()

	// 1. Open with O_NOFOLLOW where supported
	f, err := openConfigFile(Path(dir))
	if err != nil {
		if errors.Is(err, errConfigNotFound) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	// 2. fstat the descriptor
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat config file: %w", err)
	}

	// 3. Permissions must be 0600
	if perm := info.Mode().Perm(); perm != store.FileMode {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrConfigInsecure, perm)
	}

	// 4. Ownership must be the current user
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its allowed values.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidConfig, c.Version)
	}
	if _, err := store.ParseBackend(c.Storage); err != nil {
		return fmt.Errorf("%w: storage: %w", ErrInvalidConfig, err)
	}
	if _, err := crypto.LookupCipher(c.Cipher); err != nil {
		return fmt.Errorf("%w: cipher %q (use %s)", ErrInvalidConfig, c.Cipher, strings.Join(crypto.CipherIDs(), ", "))
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("%w: color %q (use auto, always or never)", ErrInvalidConfig, c.Color)
	}
	if c.MinutesPerEpisode <= 0 {
		return fmt.Errorf("%w: minutes_per_episode must be positive", ErrInvalidConfig)
	}
	if c.MCP.MaxResults <= 0 {
		return fmt.Errorf("%w: mcp.max_results must be positive", ErrInvalidConfig)
	}
	if c.KDF.MemoryKiB != 0 && c.KDF.MemoryKiB < 8*uint32(max(c.KDF.Threads, 1)) {
		return fmt.Errorf("%w: kdf.memory_kib too small", ErrInvalidConfig)
	}
	return nil
}

// Backend returns the parsed storage backend.
func (c *Config) Backend() store.Backend {
	b, err := store.ParseBackend(c.Storage)
	if err != nil {
		return store.BackendFile
	}
	return b
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes the config to dir with 0600 permissions. It refuses to
// overwrite an existing file unless force is set.
func (c *Config) Save(dir string, force bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	fs, err := store.NewFileStore(dir)
	if err != nil {
		return err
	}
	if !force {
		exists, err := fs.Exists(FileName)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", Path(dir))
		}
	}
	return fs.AtomicWriteAll(FileName, data)
}
