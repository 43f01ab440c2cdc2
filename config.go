package distill

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every path and policy the pipeline needs. It is constructed
// once at process start and passed into the controller explicitly; there is
// no ambient global configuration.
type Config struct {
	// InputDir holds the sample HTML documents used to derive the schema.
	InputDir string `yaml:"input_dir"`

	// BatchDir holds the full corpus of HTML documents that the generated
	// extractor runs over. It may also contain a urls.txt file listing
	// documents to download before the run. Empty means reuse InputDir.
	BatchDir string `yaml:"batch_dir,omitempty"`

	// OutputRoot is the directory under which numbered flow directories
	// are allocated.
	OutputRoot string `yaml:"output_root"`

	// Resume restores pipeline progress from checkpoints found under
	// OutputRoot instead of restarting from the first stage.
	Resume bool `yaml:"resume"`

	// VisualAnalysis enables the optional visual analysis stage. Its
	// absence is valid configuration, not a failure.
	VisualAnalysis bool `yaml:"visual_analysis"`

	// FlowID, when positive, forces the first allocated flow to use this
	// id instead of scanning for the next available one.
	FlowID int `yaml:"flow_id,omitempty"`

	// AutoIncrement allocates a fresh flow directory per stage. When
	// disabled, every stage writes into the same flow directory.
	AutoIncrement bool `yaml:"auto_increment"`

	// MaxAttempts bounds retries of external collaborator calls.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the initial backoff delay between retries.
	BaseDelay time.Duration `yaml:"base_delay"`
}

// DefaultConfig returns the configuration used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		InputDir:       "input/html",
		OutputRoot:     "output",
		Resume:         true,
		VisualAnalysis: true,
		AutoIncrement:  true,
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for any
// fields the file omits.
func LoadConfig(path string) (*Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(payload, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output root is required")
	}
	if c.FlowID < 0 {
		return fmt.Errorf("flow id must not be negative, got %d", c.FlowID)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}
