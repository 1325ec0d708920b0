package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

// Config is the top-level daemon configuration document.
type Config struct {
	LogLevel    string           `yaml:"logLevel"`
	DryRun      bool             `yaml:"dryRun"`
	ProfilesDir string           `yaml:"profilesDir"`
	Baseline    state.Mapping    `yaml:"baseline"`
	Aliases     Aliases          `yaml:"aliases"`
	Compositor  CompositorConfig `yaml:"compositor"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	Backoff     BackoffConfig    `yaml:"backoff"`
	Engine      EngineConfig     `yaml:"engine"`
	Sink        SinkConfig       `yaml:"sink"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Control     ControlConfig    `yaml:"control"`
}

// UnmarshalYAML accepts the deprecated shortcutsDir spelling of profilesDir.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		LogLevel          string           `yaml:"logLevel"`
		DryRun            bool             `yaml:"dryRun"`
		ProfilesDir       string           `yaml:"profilesDir"`
		LegacyProfilesDir string           `yaml:"shortcutsDir"`
		Baseline          state.Mapping    `yaml:"baseline"`
		Aliases           Aliases          `yaml:"aliases"`
		Compositor        CompositorConfig `yaml:"compositor"`
		Bridge            BridgeConfig     `yaml:"bridge"`
		Backoff           BackoffConfig    `yaml:"backoff"`
		Engine            EngineConfig     `yaml:"engine"`
		Sink              SinkConfig       `yaml:"sink"`
		Metrics           MetricsConfig    `yaml:"metrics"`
		Control           ControlConfig    `yaml:"control"`
	}
	raw := rawConfig{Bridge: BridgeConfig{Enabled: true}}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Config{
		LogLevel:    raw.LogLevel,
		DryRun:      raw.DryRun,
		ProfilesDir: raw.ProfilesDir,
		Baseline:    raw.Baseline,
		Aliases:     raw.Aliases,
		Compositor:  raw.Compositor,
		Bridge:      raw.Bridge,
		Backoff:     raw.Backoff,
		Engine:      raw.Engine,
		Sink:        raw.Sink,
		Metrics:     raw.Metrics,
		Control:     raw.Control,
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = raw.LegacyProfilesDir
	}
	return nil
}

// Aliases maps a profile id to the compositor window classes that use it.
type Aliases map[string][]string

// UnmarshalYAML rejects duplicate profile ids and accepts a single class string.
func (a *Aliases) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*a = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("aliases must be a mapping")
	}
	result := make(map[string][]string, len(value.Content)/2)
	for i := 0; i < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("alias profile id must be a string")
		}
		id := keyNode.Value
		if _, exists := result[id]; exists {
			return fmt.Errorf("duplicate alias %q", id)
		}
		var classes []string
		switch valNode.Kind {
		case yaml.ScalarNode:
			classes = []string{valNode.Value}
		default:
			if err := valNode.Decode(&classes); err != nil {
				return fmt.Errorf("alias %q: %w", id, err)
			}
		}
		result[id] = classes
	}
	*a = result
	return nil
}

// CompositorConfig controls the compositor event subscription.
type CompositorConfig struct {
	// Socket overrides discovery of the event socket.
	Socket      string   `yaml:"socket"`
	SearchRoots []string `yaml:"searchRoots"`
	// Query is the active-window strategy: socket or hyprctl.
	Query          string        `yaml:"query"`
	ResyncInterval time.Duration `yaml:"resyncInterval"`
}

// BridgeConfig controls the input helper connection.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Socket  string `yaml:"socket"`
}

// BackoffConfig is the reconnect backoff shared by both ingestion clients.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Factor  float64       `yaml:"factor"`
}

// EngineConfig sizes the engine queue and inspector history.
type EngineConfig struct {
	QueueSize    int `yaml:"queueSize"`
	HistoryLimit int `yaml:"historyLimit"`
}

// SinkConfig configures frame delivery.
type SinkConfig struct {
	// Socket is the hardware layer's frame socket; empty logs frames instead.
	Socket    string        `yaml:"socket"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queueSize"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ControlConfig overrides the control socket path.
type ControlConfig struct {
	Socket string `yaml:"socket"`
}

// DefaultPath returns ~/.config/sinodragon/config.yaml, honouring XDG_CONFIG_HOME.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sinodragon", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "sinodragon", "config.yaml")
	}
	return filepath.Join(home, ".config", "sinodragon", "config.yaml")
}

// Parse decodes a configuration payload and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Bridge: BridgeConfig{Enabled: true}}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads, decodes and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = filepath.Join(filepath.Dir(DefaultPath()), "profiles")
	} else if strings.HasPrefix(c.ProfilesDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.ProfilesDir = filepath.Join(home, c.ProfilesDir[2:])
		}
	}
	if c.Compositor.Query == "" {
		c.Compositor.Query = "socket"
	}
	if c.Compositor.ResyncInterval == 0 {
		c.Compositor.ResyncInterval = 60 * time.Second
	}
	if c.Backoff.Initial == 0 {
		c.Backoff.Initial = time.Second
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = 30 * time.Second
	}
	if c.Backoff.Factor == 0 {
		c.Backoff.Factor = 1.5
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 64
	}
	if c.Engine.HistoryLimit == 0 {
		c.Engine.HistoryLimit = 128
	}
	if c.Sink.Timeout == 0 {
		c.Sink.Timeout = 250 * time.Millisecond
	}
	if c.Sink.QueueSize == 0 {
		c.Sink.QueueSize = 4
	}
}

// Validate returns the first lint error, if any.
func (c *Config) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
