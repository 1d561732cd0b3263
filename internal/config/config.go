package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskpilot.yml.
type Config struct {
	Engine struct {
		// FollowUpDue is the default relative due date for create_follow_up
		// actions that do not set one.
		FollowUpDue string `yaml:"follow_up_due"`
		// GeneratedConfidence is the confidence score stamped on tasks the
		// engine creates machine-generated.
		GeneratedConfidence float64 `yaml:"generated_confidence"`
	} `yaml:"engine"`
	Scan struct {
		// LookaheadDays is the due_date_approaching window.
		LookaheadDays int `yaml:"lookahead_days"`
		// Schedule is the cron expression the serve command runs the
		// scheduled scan on.
		Schedule string `yaml:"schedule"`
		// MaxUsersPerScan and MaxTasksPerUser bound one scan invocation.
		MaxUsersPerScan int `yaml:"max_users_per_scan"`
		MaxTasksPerUser int `yaml:"max_tasks_per_user"`
	} `yaml:"scan"`
	Notifications struct {
		// ActionURLBase prefixes task links in notifications.
		ActionURLBase string `yaml:"action_url_base"`
	} `yaml:"notifications"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scan.LookaheadDays < 0 {
		return fmt.Errorf("config.scan.lookahead_days must be >= 0")
	}
	if c.Scan.MaxUsersPerScan <= 0 {
		return fmt.Errorf("config.scan.max_users_per_scan must be > 0")
	}
	if c.Scan.MaxTasksPerUser <= 0 {
		return fmt.Errorf("config.scan.max_tasks_per_user must be > 0")
	}
	if c.Engine.GeneratedConfidence < 0 || c.Engine.GeneratedConfidence > 1 {
		return fmt.Errorf("config.engine.generated_confidence must be within [0,1]")
	}
	if c.Scan.Schedule == "" {
		return fmt.Errorf("config.scan.schedule is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskpilot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `engine:
  follow_up_due: "+1 day"
  generated_confidence: 0.85

scan:
  lookahead_days: 3
  schedule: "0 7 * * *"
  max_users_per_scan: 50
  max_tasks_per_user: 25

notifications:
  action_url_base: "/tasks"
`
