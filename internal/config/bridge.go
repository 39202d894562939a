package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bridge is the robot-side configuration (bridge.yaml).
type Bridge struct {
	ServerURL      string `yaml:"server_url"`
	Task           string `yaml:"task"`
	Horizon        int    `yaml:"horizon"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	EpisodeTicks   int    `yaml:"episode_ticks"`
	Seed           int64  `yaml:"seed"`

	Camera   CameraSpec   `yaml:"camera"`
	Recorder RecorderSpec `yaml:"recorder"`
	Layout   LayoutSpec   `yaml:"layout"`
}

type CameraSpec struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type RecorderSpec struct {
	Dir           string `yaml:"dir"`
	FrameQueue    int    `yaml:"frame_queue"`
	DisableFrames bool   `yaml:"disable_frames"`
}

func LoadBridge(path string) (Bridge, error) {
	cfg := bridgeDefaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("bridge.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("bridge.yaml: %w", err)
	}
	return cfg, nil
}

func bridgeDefaults() Bridge {
	return Bridge{
		ServerURL:      "ws://127.0.0.1:5555/v1/ws",
		Task:           "pick up the object and place it in the bin",
		Horizon:        16,
		TimeoutMS:      10000,
		RetryBackoffMS: 500,
		EpisodeTicks:   480,
		Seed:           1,
		Camera:         CameraSpec{Width: 640, Height: 480},
		Recorder:       RecorderSpec{Dir: "episodes", FrameQueue: 64},
		Layout:         defaultLayoutSpec(),
	}
}

func (c *Bridge) Normalize() {
	if c == nil {
		return
	}
	if c.Horizon <= 0 {
		c.Horizon = 16
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 10000
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = 500
	}
	if c.Recorder.FrameQueue <= 0 {
		c.Recorder.FrameQueue = 64
	}
	if c.Layout.Joints == 0 {
		c.Layout = defaultLayoutSpec()
	}
}

func (c Bridge) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("server_url %q must be a ws:// or wss:// URL", c.ServerURL)
	}
	if strings.TrimSpace(c.Task) == "" {
		return fmt.Errorf("task must not be empty")
	}
	if c.EpisodeTicks <= 0 {
		return fmt.Errorf("episode_ticks must be > 0")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera %dx%d must be positive", c.Camera.Width, c.Camera.Height)
	}
	if _, err := c.Layout.Layout(); err != nil {
		return err
	}
	return nil
}
