package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Server is the policyd configuration (policyd.yaml).
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
	Horizon    int    `yaml:"horizon"`

	// RecordDir enables server-side request/response records when set.
	RecordDir string `yaml:"record_dir"`
	// IndexPath is the sqlite file for the per-step inference index.
	// Empty disables it.
	IndexPath string `yaml:"index_path"`

	// ModelGoal is the normalized resting pose the built-in model ramps
	// toward.
	ModelGoal float64 `yaml:"model_goal"`

	Layout        LayoutSpec `yaml:"layout"`
	Normalization StatsSpec  `yaml:"normalization"`
}

func LoadServer(path string) (Server, error) {
	cfg := serverDefaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("policyd.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("policyd.yaml: %w", err)
	}
	return cfg, nil
}

func serverDefaults() Server {
	return Server{
		ListenAddr:    ":5555",
		Horizon:       16,
		Layout:        defaultLayoutSpec(),
		Normalization: defaultStatsSpec(),
	}
}

func (c *Server) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":5555"
	}
	if c.Horizon <= 0 {
		c.Horizon = 16
	}
	if c.Layout.Joints == 0 {
		c.Layout = defaultLayoutSpec()
	}
	if len(c.Normalization) == 0 {
		c.Normalization = defaultStatsSpec()
	}
}

func (c Server) Validate() error {
	l, err := c.Layout.Layout()
	if err != nil {
		return err
	}
	if _, err := c.Normalization.Stats(l); err != nil {
		return err
	}
	return nil
}
