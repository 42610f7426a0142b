// Package config loads the pipeline configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pilahsampah/pilah/internal/adaptive"
	"github.com/pilahsampah/pilah/internal/capture"
	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/perf"
)

type Config struct {
	Camera    CameraConfig
	Detector  DetectorConfig
	Scheduler SchedulerConfig
	Adaptive  AdaptiveConfig
	Perf      PerfConfig
	UI        UIConfig
}

type CameraConfig struct {
	DeviceID int
	Rotation int
	Ladder   []capture.Resolution
	// InitialIndex is ignored when AutoCapability is set.
	InitialIndex   int
	AutoCapability bool
}

type DetectorConfig struct {
	ModelPath      string
	LabelsPath     string
	Backend        detector.Backend
	ScoreThreshold float64
	MaxResults     int
	InputSize      int
}

type SchedulerConfig struct {
	MinSpacing time.Duration
}

type AdaptiveConfig struct {
	Enabled            bool
	Alpha              float64
	Cooldown           time.Duration
	DownscaleThreshold time.Duration
	UpscaleThreshold   time.Duration
}

type PerfConfig struct {
	SlowFrame     time.Duration
	SlowInference time.Duration
	WarnInterval  time.Duration
	MemoryCheck   time.Duration
	Window        int
}

type UIConfig struct {
	PollInterval time.Duration
	Headless     bool
	ViewWidth    int
	ViewHeight   int
}

func (conf *Config) Validate() error {
	if conf.Detector.ModelPath == "" {
		return errors.New("detector model-path is required")
	}
	if conf.Detector.ScoreThreshold < 0 || conf.Detector.ScoreThreshold > 1 {
		return errors.New("detector score-threshold should be in range 0 - 1")
	}
	if conf.Detector.MaxResults < 0 {
		return errors.New("detector max-results should not be negative")
	}
	if conf.Scheduler.MinSpacing < 0 {
		return errors.New("scheduler min-spacing should not be negative")
	}
	switch ((conf.Camera.Rotation % 360) + 360) % 360 {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera rotation %d is not a multiple of 90", conf.Camera.Rotation)
	}
	if conf.UI.PollInterval <= 0 {
		return errors.New("ui poll-interval should be positive")
	}
	if conf.UI.ViewWidth <= 0 || conf.UI.ViewHeight <= 0 {
		return errors.New("ui view size should be positive")
	}
	if err := conf.AdaptiveParams().Validate(); err != nil {
		return fmt.Errorf("adaptive: %w", err)
	}
	return nil
}

// DetectorOptions returns stream-mode session options.
func (conf *Config) DetectorOptions() detector.Options {
	return detector.Options{
		ModelPath:      conf.Detector.ModelPath,
		LabelsPath:     conf.Detector.LabelsPath,
		Backend:        conf.Detector.Backend,
		ScoreThreshold: conf.Detector.ScoreThreshold,
		MaxResults:     conf.Detector.MaxResults,
		Mode:           detector.ModeStream,
		InputSize:      conf.Detector.InputSize,
	}
}

// AdaptiveParams returns the controller configuration.
func (conf *Config) AdaptiveParams() adaptive.Config {
	return adaptive.Config{
		Ladder:             conf.Camera.Ladder,
		Alpha:              conf.Adaptive.Alpha,
		Cooldown:           conf.Adaptive.Cooldown,
		DownscaleThreshold: conf.Adaptive.DownscaleThreshold,
		UpscaleThreshold:   conf.Adaptive.UpscaleThreshold,
		InitialIndex:       conf.Camera.InitialIndex,
	}
}

// MonitorParams returns the perf monitor configuration.
func (conf *Config) MonitorParams() perf.MonitorConfig {
	return perf.MonitorConfig{
		SlowFrame:     conf.Perf.SlowFrame,
		SlowInference: conf.Perf.SlowInference,
		WarnInterval:  conf.Perf.WarnInterval,
		Window:        conf.Perf.Window,
	}
}

type rawConfig struct {
	Camera struct {
		DeviceID       int      `yaml:"device-id"`
		Rotation       int      `yaml:"rotation"`
		Ladder         []string `yaml:"ladder"`
		InitialIndex   int      `yaml:"initial-index"`
		AutoCapability bool     `yaml:"auto-capability"`
	} `yaml:"camera"`
	Detector struct {
		ModelPath      string  `yaml:"model-path"`
		LabelsPath     string  `yaml:"labels-path"`
		Backend        string  `yaml:"backend"`
		ScoreThreshold float64 `yaml:"score-threshold"`
		MaxResults     int     `yaml:"max-results"`
		InputSize      int     `yaml:"input-size"`
	} `yaml:"detector"`
	Scheduler struct {
		MinSpacing string `yaml:"min-spacing"`
	} `yaml:"scheduler"`
	Adaptive struct {
		Enabled            bool    `yaml:"enabled"`
		Alpha              float64 `yaml:"alpha"`
		Cooldown           string  `yaml:"cooldown"`
		DownscaleThreshold string  `yaml:"downscale-threshold"`
		UpscaleThreshold   string  `yaml:"upscale-threshold"`
	} `yaml:"adaptive"`
	Perf struct {
		SlowFrame     string `yaml:"slow-frame"`
		SlowInference string `yaml:"slow-inference"`
		WarnInterval  string `yaml:"warn-interval"`
		MemoryCheck   string `yaml:"memory-check"`
		Window        int    `yaml:"window"`
	} `yaml:"perf"`
	UI struct {
		PollInterval string `yaml:"poll-interval"`
		Headless     bool   `yaml:"headless"`
		ViewWidth    int    `yaml:"view-width"`
		ViewHeight   int    `yaml:"view-height"`
	} `yaml:"ui"`
}

func defaultRaw() rawConfig {
	var raw rawConfig
	raw.Camera.Ladder = []string{"1280x720", "960x540", "640x480"}
	raw.Camera.AutoCapability = true
	raw.Detector.ModelPath = "models/model_pemilah_sampah.onnx"
	raw.Detector.LabelsPath = "models/labels.txt"
	raw.Detector.Backend = "gpu"
	raw.Detector.ScoreThreshold = 0.5
	raw.Detector.MaxResults = 5
	raw.Detector.InputSize = 640
	raw.Scheduler.MinSpacing = "66ms"
	raw.Adaptive.Enabled = true
	raw.Adaptive.Alpha = 0.2
	raw.Adaptive.Cooldown = "5s"
	raw.Adaptive.DownscaleThreshold = "85ms"
	raw.Adaptive.UpscaleThreshold = "55ms"
	raw.Perf.SlowFrame = "33ms"
	raw.Perf.SlowInference = "100ms"
	raw.Perf.WarnInterval = "5s"
	raw.Perf.MemoryCheck = "30s"
	raw.Perf.Window = perf.DefaultWindow
	raw.UI.PollInterval = "500ms"
	raw.UI.ViewWidth = 720
	raw.UI.ViewHeight = 1280
	return raw
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	conf, err := ParseConfig(nil)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return conf
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	raw := defaultRaw()
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}

	backend, err := detector.ParseBackend(raw.Detector.Backend)
	if err != nil {
		return nil, fmt.Errorf("detector backend: %w", err)
	}

	ladder := make([]capture.Resolution, 0, len(raw.Camera.Ladder))
	for _, s := range raw.Camera.Ladder {
		res, err := ParseResolution(s)
		if err != nil {
			return nil, fmt.Errorf("camera ladder: %w", err)
		}
		ladder = append(ladder, res)
	}

	conf := &Config{
		Camera: CameraConfig{
			DeviceID:       raw.Camera.DeviceID,
			Rotation:       raw.Camera.Rotation,
			Ladder:         ladder,
			InitialIndex:   raw.Camera.InitialIndex,
			AutoCapability: raw.Camera.AutoCapability,
		},
		Detector: DetectorConfig{
			ModelPath:      raw.Detector.ModelPath,
			LabelsPath:     raw.Detector.LabelsPath,
			Backend:        backend,
			ScoreThreshold: raw.Detector.ScoreThreshold,
			MaxResults:     raw.Detector.MaxResults,
			InputSize:      raw.Detector.InputSize,
		},
		Adaptive: AdaptiveConfig{
			Enabled: raw.Adaptive.Enabled,
			Alpha:   raw.Adaptive.Alpha,
		},
		Perf: PerfConfig{Window: raw.Perf.Window},
		UI: UIConfig{
			Headless:   raw.UI.Headless,
			ViewWidth:  raw.UI.ViewWidth,
			ViewHeight: raw.UI.ViewHeight,
		},
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"scheduler min-spacing", raw.Scheduler.MinSpacing, &conf.Scheduler.MinSpacing},
		{"adaptive cooldown", raw.Adaptive.Cooldown, &conf.Adaptive.Cooldown},
		{"adaptive downscale-threshold", raw.Adaptive.DownscaleThreshold, &conf.Adaptive.DownscaleThreshold},
		{"adaptive upscale-threshold", raw.Adaptive.UpscaleThreshold, &conf.Adaptive.UpscaleThreshold},
		{"perf slow-frame", raw.Perf.SlowFrame, &conf.Perf.SlowFrame},
		{"perf slow-inference", raw.Perf.SlowInference, &conf.Perf.SlowInference},
		{"perf warn-interval", raw.Perf.WarnInterval, &conf.Perf.WarnInterval},
		{"perf memory-check", raw.Perf.MemoryCheck, &conf.Perf.MemoryCheck},
		{"ui poll-interval", raw.UI.PollInterval, &conf.UI.PollInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (capture.Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return capture.Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	return capture.Resolution{Width: width, Height: height}, nil
}
