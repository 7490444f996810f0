package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models dealflow.yml: the distribution policy knobs of the queue and
// the reporting cadences shared by agencies and projects.
type Config struct {
	Distribution struct {
		AgencyCadenceDays  int `yaml:"agency_cadence_days" json:"agency_cadence_days"`
		ProjectCadenceDays int `yaml:"project_cadence_days" json:"project_cadence_days"`
		BlockingThreshold  int `yaml:"blocking_threshold" json:"blocking_threshold"`
		DefaultMaxCapacity int `yaml:"default_max_capacity" json:"default_max_capacity"`
	} `yaml:"distribution" json:"distribution"`
	Tiers struct {
		Ranks map[string]int `yaml:"ranks" json:"ranks"`
	} `yaml:"tiers" json:"tiers"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Distribution.AgencyCadenceDays <= 0 {
		return fmt.Errorf("config.distribution.agency_cadence_days must be > 0")
	}
	if c.Distribution.ProjectCadenceDays <= 0 {
		return fmt.Errorf("config.distribution.project_cadence_days must be > 0")
	}
	if c.Distribution.BlockingThreshold < 1 {
		return fmt.Errorf("config.distribution.blocking_threshold must be >= 1")
	}
	if c.Distribution.DefaultMaxCapacity < 1 {
		return fmt.Errorf("config.distribution.default_max_capacity must be >= 1")
	}
	if len(c.Tiers.Ranks) == 0 {
		return fmt.Errorf("config.tiers.ranks is required")
	}
	for _, tier := range []string{"basic", "premium", "elite"} {
		if _, ok := c.Tiers.Ranks[tier]; !ok {
			return fmt.Errorf("config.tiers.ranks must include %s", tier)
		}
	}
	return nil
}

// TierRank returns the ordering weight for a partner tier; unknown tiers rank
// lowest so a stale snapshot never outranks a known one.
func (c *Config) TierRank(tier string) int {
	if r, ok := c.Tiers.Ranks[tier]; ok {
		return r
	}
	return 0
}

// KnownTier reports whether the tier appears in the rank table.
func (c *Config) KnownTier(tier string) bool {
	_, ok := c.Tiers.Ranks[tier]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dealflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `distribution:
  # days between mandatory reports before the next one is due
  agency_cadence_days: 7
  project_cadence_days: 7
  # pending reports at or above this count block distribution
  blocking_threshold: 2
  default_max_capacity: 5

tiers:
  ranks:
    basic: 1
    premium: 2
    elite: 3
`
