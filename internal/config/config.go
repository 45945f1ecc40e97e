// Package config loads the upack command-line configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
	"github.com/git-pkgs/upack/internal/installed"
)

// PathEnv overrides the config file location.
const PathEnv = "UPACK_CONFIG"

// Config is the upack configuration file.
type Config struct {
	Version  int               `yaml:"version"`
	Sources  map[string]Source `yaml:"sources"`
	Registry RegistryConfig    `yaml:"registry"`
	Deploy   DeployConfig      `yaml:"deploy"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// Source is a named feed.
type Source struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	UserAgent string            `yaml:"user_agent,omitempty"`
	Retries   int               `yaml:"retries,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// RegistryConfig controls the installed-package registry.
type RegistryConfig struct {
	Scope           string        `yaml:"scope"`
	Root            string        `yaml:"root,omitempty"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	RegisterTimeout time.Duration `yaml:"register_timeout"`
	Lease           time.Duration `yaml:"lease"`
}

// DeployConfig holds defaults for deployments.
type DeployConfig struct {
	Compare     string   `yaml:"compare"`
	DeleteExtra *bool    `yaml:"delete_extra,omitempty"`
	Ignore      []string `yaml:"ignore,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
	Concurrency int      `yaml:"concurrency"`
}

// DeleteExtraValue returns the effective delete_extra flag.
func (d DeployConfig) DeleteExtraValue() bool {
	if d.DeleteExtra == nil {
		return false
	}
	return *d.DeleteExtra
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
	Path   string `yaml:"path"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Sources: map[string]Source{},
		Registry: RegistryConfig{
			Scope:           installed.ScopeMachine.String(),
			LockTimeout:     30 * time.Second,
			RegisterTimeout: 5 * time.Second,
			Lease:           10 * time.Minute,
		},
		Deploy: DeployConfig{
			Compare:     drift.CompareSizeAndTimestamp.String(),
			Concurrency: 4,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// DefaultPath returns the config path from UPACK_CONFIG, falling back to
// upack/config.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "upack.yaml"
	}
	return filepath.Join(dir, "upack", "config.yaml")
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills fields the YAML left empty.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if c.Sources == nil {
		c.Sources = map[string]Source{}
	}
	if c.Registry.Scope == "" {
		c.Registry.Scope = defaults.Registry.Scope
	}
	if c.Registry.LockTimeout == 0 {
		c.Registry.LockTimeout = defaults.Registry.LockTimeout
	}
	if c.Registry.RegisterTimeout == 0 {
		c.Registry.RegisterTimeout = defaults.Registry.RegisterTimeout
	}
	if c.Registry.Lease == 0 {
		c.Registry.Lease = defaults.Registry.Lease
	}
	if c.Deploy.Compare == "" {
		c.Deploy.Compare = defaults.Deploy.Compare
	}
	if c.Deploy.Concurrency == 0 {
		c.Deploy.Concurrency = defaults.Deploy.Concurrency
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaults.Metrics.Path
	}
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var errs []error

	known := make(map[string]bool)
	for _, t := range core.SupportedFeedTypes() {
		known[t] = true
	}
	for _, name := range c.SourceNames() {
		src := c.Sources[name]
		switch {
		case strings.TrimSpace(src.Type) == "":
			errs = append(errs, fmt.Errorf("source %q: missing type", name))
		case len(known) > 0 && !known[src.Type]:
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", name, src.Type))
		}
		if strings.TrimSpace(src.URL) == "" && core.DefaultURL(src.Type) == "" {
			errs = append(errs, fmt.Errorf("source %q: missing url", name))
		}
		if src.Retries < 0 {
			errs = append(errs, fmt.Errorf("source %q: retries must not be negative", name))
		}
	}

	if _, err := installed.ParseScope(c.Registry.Scope); err != nil {
		errs = append(errs, fmt.Errorf("registry.scope: %w", err))
	}
	if c.Registry.LockTimeout < 0 || c.Registry.RegisterTimeout < 0 || c.Registry.Lease < 0 {
		errs = append(errs, errors.New("registry: timeouts must not be negative"))
	}
	if _, err := drift.ParseCompareMode(c.Deploy.Compare); err != nil {
		errs = append(errs, fmt.Errorf("deploy.compare: %w", err))
	}
	if c.Deploy.Concurrency < 0 {
		errs = append(errs, errors.New("deploy.concurrency must not be negative"))
	}
	if _, err := fsys.CompilePatterns(c.Deploy.Ignore); err != nil {
		errs = append(errs, fmt.Errorf("deploy.ignore: %w", err))
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// SourceNames returns the configured source names, sorted.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scope returns the parsed registry scope.
func (c Config) Scope() (installed.Scope, error) {
	return installed.ParseScope(c.Registry.Scope)
}

// CompareMode returns the parsed default comparison.
func (c Config) CompareMode() (drift.CompareMode, error) {
	return drift.ParseCompareMode(c.Deploy.Compare)
}

// OpenRegistry opens the installed-package registry the config describes.
// It returns nil for scope "none".
func (c Config) OpenRegistry() (*installed.Registry, error) {
	scope, err := c.Scope()
	if err != nil {
		return nil, err
	}
	if scope == installed.ScopeNone && c.Registry.Root == "" {
		return nil, nil
	}
	opts := []installed.Option{installed.WithLease(c.Registry.Lease)}
	if c.Registry.Root != "" {
		opts = append(opts, installed.WithRoot(c.Registry.Root))
	}
	return installed.Open(scope, opts...)
}

// BuildSources constructs every configured feed. base supplies the shared
// client settings; per-source settings are layered on a copy.
func (c Config) BuildSources(base []core.Option) (*core.Sources, error) {
	sources := core.NewSources(core.NewClient(base...))
	var errs []error
	for _, name := range c.SourceNames() {
		src := c.Sources[name]
		opts := append([]core.Option{}, base...)
		if src.Retries > 0 {
			opts = append(opts, core.WithMaxRetries(src.Retries))
		}
		if src.Timeout > 0 {
			opts = append(opts, core.WithTimeout(src.Timeout))
		}
		for k, v := range src.Headers {
			opts = append(opts, core.WithHeader(k, v))
		}
		client := core.NewClient(opts...)
		if src.UserAgent != "" {
			client = client.WithUserAgent(src.UserAgent)
		}

		feed, err := core.New(src.Type, src.URL, client)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", name, err))
			continue
		}
		sources.Add(name, feed)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sources, nil
}
