package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RepoConfig addresses the remote extension repository.
type RepoConfig struct {
	Mirror  string `yaml:"mirror" json:"mirror"`
	Release string `yaml:"release" json:"release"`
	Arch    string `yaml:"arch" json:"arch"`
}

// StoreConfig holds the local directories the fetcher writes into.
type StoreConfig struct {
	ExtensionDir string `yaml:"extension_dir" json:"extension_dir"`
	WorkDir      string `yaml:"work_dir" json:"work_dir"`
	CacheMaxAge  string `yaml:"cache_max_age" json:"cache_max_age"`
}

// OwnerConfig names the identity every written artifact is assigned to.
// Empty values mean the no-op policy.
type OwnerConfig struct {
	User  string `yaml:"user" json:"user"`
	Group string `yaml:"group" json:"group"`
}

// IndexConfig controls optional verification of the package index.
type IndexConfig struct {
	SigningKey string `yaml:"signing_key" json:"signing_key"`
}

// RemasterConfig describes one ISO remaster run.
type RemasterConfig struct {
	BaseISO       string   `yaml:"base_iso" json:"base_iso"`
	OutputISO     string   `yaml:"output_iso" json:"output_iso"`
	Extensions    []string `yaml:"extensions" json:"extensions"`
	RootfsPath    string   `yaml:"rootfs_path" json:"rootfs_path"`
	Compression   string   `yaml:"compression" json:"compression"`
	StartupScript string   `yaml:"startup_script" json:"startup_script"`
	VolumeLabel   string   `yaml:"volume_label" json:"volume_label"`
	UseSudo       bool     `yaml:"use_sudo" json:"use_sudo"`
}

// GlobalConfig is the root of the tool configuration.
type GlobalConfig struct {
	Repo     RepoConfig     `yaml:"repo" json:"repo"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Owner    OwnerConfig    `yaml:"owner" json:"owner"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Remaster RemasterConfig `yaml:"remaster" json:"remaster"`
}

// ValidArchs enumerates the supported target architectures. The first two
// carry mainline-style kernel tags, the last two the ARM fork tags.
var ValidArchs = []string{"x86", "x86_64", "armv7", "aarch64"}

// Default returns the built-in configuration.
func Default() *GlobalConfig {
	return &GlobalConfig{
		Repo: RepoConfig{
			Mirror:  "http://repo.tinycorelinux.net",
			Release: "15.x",
			Arch:    "x86_64",
		},
		Store: StoreConfig{
			ExtensionDir: "extensions",
			WorkDir:      "work",
			CacheMaxAge:  "72h",
		},
		Remaster: RemasterConfig{
			RootfsPath:  "boot/corepure64.gz",
			Compression: "gzip",
			VolumeLabel: "microcore-remaster",
			UseSudo:     true,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path yields the validated defaults.
func Load(path string) (*GlobalConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the semantic constraints the schema cannot express.
func (c *GlobalConfig) Validate() error {
	archOK := false
	for _, a := range ValidArchs {
		if c.Repo.Arch == a {
			archOK = true
			break
		}
	}
	if !archOK {
		return fmt.Errorf("invalid architecture %q (expected one of %v)", c.Repo.Arch, ValidArchs)
	}

	if _, err := time.ParseDuration(c.Store.CacheMaxAge); err != nil {
		return fmt.Errorf("invalid cache_max_age %q: %w", c.Store.CacheMaxAge, err)
	}

	switch c.Remaster.Compression {
	case "gzip", "xz":
	default:
		return fmt.Errorf("invalid compression %q (expected gzip or xz)", c.Remaster.Compression)
	}
	return nil
}

// CacheMaxAge returns the parsed index staleness threshold.
func (c *GlobalConfig) CacheMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Store.CacheMaxAge)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}

// ExtensionDir returns the absolute extension store path.
func (c *GlobalConfig) ExtensionDir() (string, error) {
	return filepath.Abs(c.Store.ExtensionDir)
}

// WorkDir returns the absolute working directory path.
func (c *GlobalConfig) WorkDir() (string, error) {
	return filepath.Abs(c.Store.WorkDir)
}

// CreateDirs ensures the extension store and work directory exist.
func (c *GlobalConfig) CreateDirs() error {
	for _, f := range []func() (string, error){c.ExtensionDir, c.WorkDir} {
		dir, err := f()
		if err != nil {
			return fmt.Errorf("resolving directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// TczDirURL returns the repository directory holding extension files.
func (c *GlobalConfig) TczDirURL() string {
	return fmt.Sprintf("%s/%s/%s/tcz", c.Repo.Mirror, c.Repo.Release, c.Repo.Arch)
}
