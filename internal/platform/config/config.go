package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v2"
)

// Config is the full service configuration. Values come from three layers:
// built-in defaults, an optional YAML file, and environment variables, with
// the environment taking precedence.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Storage   StorageConfig   `yaml:"storage"`
	Timelapse TimelapseConfig `yaml:"timelapse"`
	Motion    MotionConfig    `yaml:"motion"`
	Solar     TrackerConfig   `yaml:"solar"`
	Lunar     TrackerConfig   `yaml:"lunar"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CameraConfig configures the video source and the acquisition loop.
type CameraConfig struct {
	SourceURI        string `yaml:"source_uri"`
	ReconnectSeconds int    `yaml:"reconnect_seconds"`
	CaptureFPSCap    int    `yaml:"capture_fps_cap"`
	JPEGQuality      int    `yaml:"jpeg_quality"`
}

// StorageConfig configures where artifacts live.
type StorageConfig struct {
	BasePath string `yaml:"base_path"`
	DBPath   string `yaml:"db_path"`
}

// TimelapseConfig configures still capture and video assembly.
type TimelapseConfig struct {
	Enabled          bool `yaml:"enabled"`
	IntervalSeconds  int  `yaml:"interval_seconds"`
	CompileThreshold int  `yaml:"compile_threshold"`
	EncodeFPS        int  `yaml:"encode_fps"`
	EncoderTimeout   int  `yaml:"encoder_timeout_seconds"`
}

// MotionConfig configures motion detection and burst capture.
type MotionConfig struct {
	Enabled         bool `yaml:"enabled"`
	Sensitivity     int  `yaml:"sensitivity"`
	MinArea         int  `yaml:"min_area"`
	BurstCount      int  `yaml:"burst_count"`
	BurstFPS        int  `yaml:"burst_fps"`
	CooldownSeconds int  `yaml:"cooldown_seconds"`
}

// TrackerConfig configures a sky-object composite tracker (sun or moon).
type TrackerConfig struct {
	Enabled             bool `yaml:"enabled"`
	IntervalSeconds     int  `yaml:"interval_seconds"`
	BrightnessThreshold int  `yaml:"brightness_threshold"`
	MinRadius           int  `yaml:"min_radius"`
	MaxRadius           int  `yaml:"max_radius"`
	WindowOnly          bool `yaml:"window_only"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Camera: CameraConfig{
			ReconnectSeconds: 5,
			CaptureFPSCap:    15,
			JPEGQuality:      85,
		},
		Storage: StorageConfig{
			BasePath: "./storage",
			DBPath:   "./storage/skywatch.db",
		},
		Timelapse: TimelapseConfig{
			Enabled:          true,
			IntervalSeconds:  60,
			CompileThreshold: 20,
			EncodeFPS:        24,
			EncoderTimeout:   60,
		},
		Motion: MotionConfig{
			Enabled:         true,
			Sensitivity:     25,
			MinArea:         500,
			BurstCount:      10,
			BurstFPS:        10,
			CooldownSeconds: 5,
		},
		Solar: TrackerConfig{
			Enabled:             true,
			IntervalSeconds:     30,
			BrightnessThreshold: 200,
			MinRadius:           10,
			MaxRadius:           100,
			WindowOnly:          true,
		},
		Lunar: TrackerConfig{
			Enabled:             true,
			IntervalSeconds:     60,
			BrightnessThreshold: 150,
			MinRadius:           15,
			MaxRadius:           150,
			WindowOnly:          true,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// LoadFile returns the defaults overlaid with the YAML file at path and then
// with environment variables. A missing file is not an error; a malformed
// one is.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file/default values with environment variables.
func (c *Config) applyEnv() {
	c.Server.Port = GetEnvInt("PORT", c.Server.Port)

	c.Camera.SourceURI = GetEnv("SOURCE_URI", c.Camera.SourceURI)
	c.Camera.ReconnectSeconds = GetEnvInt("RECONNECT_SECONDS", c.Camera.ReconnectSeconds)
	c.Camera.CaptureFPSCap = GetEnvInt("CAPTURE_FPS_CAP", c.Camera.CaptureFPSCap)
	c.Camera.JPEGQuality = GetEnvInt("LIVE_JPEG_QUALITY", c.Camera.JPEGQuality)

	c.Storage.BasePath = GetEnv("STORAGE_PATH", c.Storage.BasePath)
	c.Storage.DBPath = GetEnv("DB_PATH", c.Storage.DBPath)

	c.Timelapse.Enabled = GetEnvBool("TIMELAPSE_ENABLED", c.Timelapse.Enabled)
	c.Timelapse.IntervalSeconds = GetEnvInt("TIMELAPSE_INTERVAL", c.Timelapse.IntervalSeconds)
	c.Timelapse.CompileThreshold = GetEnvInt("COMPILE_THRESHOLD", c.Timelapse.CompileThreshold)
	c.Timelapse.EncodeFPS = GetEnvInt("ENCODE_FPS", c.Timelapse.EncodeFPS)
	c.Timelapse.EncoderTimeout = GetEnvInt("ENCODER_TIMEOUT_SECONDS", c.Timelapse.EncoderTimeout)

	c.Motion.Enabled = GetEnvBool("MOTION_ENABLED", c.Motion.Enabled)
	c.Motion.Sensitivity = GetEnvInt("MOTION_SENSITIVITY", c.Motion.Sensitivity)
	c.Motion.MinArea = GetEnvInt("MOTION_MIN_AREA", c.Motion.MinArea)
	c.Motion.BurstCount = GetEnvInt("MOTION_BURST_COUNT", c.Motion.BurstCount)
	c.Motion.BurstFPS = GetEnvInt("MOTION_BURST_FPS", c.Motion.BurstFPS)
	c.Motion.CooldownSeconds = GetEnvInt("MOTION_COOLDOWN", c.Motion.CooldownSeconds)

	applyTrackerEnv("SOLAR", &c.Solar)
	applyTrackerEnv("LUNAR", &c.Lunar)

	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LOG_FORMAT", c.Log.Format)
}

// applyTrackerEnv overrides one tracker's values from prefixed env keys,
// e.g. SOLAR_MAX_RADIUS or LUNAR_WINDOW_ONLY.
func applyTrackerEnv(prefix string, t *TrackerConfig) {
	t.Enabled = GetEnvBool(prefix+"_ENABLED", t.Enabled)
	t.IntervalSeconds = GetEnvInt(prefix+"_INTERVAL", t.IntervalSeconds)
	t.BrightnessThreshold = GetEnvInt(prefix+"_BRIGHTNESS_THRESHOLD", t.BrightnessThreshold)
	t.MinRadius = GetEnvInt(prefix+"_MIN_RADIUS", t.MinRadius)
	t.MaxRadius = GetEnvInt(prefix+"_MAX_RADIUS", t.MaxRadius)
	t.WindowOnly = GetEnvBool(prefix+"_WINDOW_ONLY", t.WindowOnly)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
