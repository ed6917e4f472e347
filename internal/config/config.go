// Package config resolves process configuration for whisperweb from .env
// files, an optional YAML file, environment variables and command-line flags.
// Persisted settings stay in the store; this package only supplies
// overrides and paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/whisperweb/internal/db"
	"github.com/jwulff/whisperweb/internal/recorder"
	"github.com/jwulff/whisperweb/internal/settings"
)

// Environment variables read by Resolve.
const (
	EnvBaseURL      = "WHISPERWEB_BASE_URL"
	EnvAPIKey       = "WHISPERWEB_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvModel        = "WHISPERWEB_MODEL"
	EnvDatabase     = "WHISPERWEB_DB"
	EnvSocket       = "WHISPERWEB_SOCKET"
	EnvFFmpeg       = "WHISPERWEB_FFMPEG"
)

// File names under db.DefaultDir().
const (
	DefaultFileName = "whisperweb.yaml"
	EnvFileName     = "whisperweb.env"
	SocketFileName  = "whisperweb.sock"
	LogFileName     = "whisperweb.log"
)

// APIConfig overrides the API block of the persisted settings. Empty fields
// leave the stored value alone.
type APIConfig struct {
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Model       string `yaml:"model,omitempty"`
	CustomModel string `yaml:"custom_model,omitempty"`
}

// RecordingConfig selects the capture device.
type RecordingConfig struct {
	FFmpeg      string `yaml:"ffmpeg,omitempty"`
	InputFormat string `yaml:"input_format,omitempty"`
	InputDevice string `yaml:"input_device,omitempty"`
}

// PathsConfig locates the database, control socket and log file.
type PathsConfig struct {
	Database string `yaml:"database,omitempty"`
	Socket   string `yaml:"socket,omitempty"`
	Log      string `yaml:"log,omitempty"`
}

// Config is the YAML file layout and the resolved configuration.
type Config struct {
	API       APIConfig       `yaml:"api,omitempty"`
	Recording RecordingConfig `yaml:"recording,omitempty"`
	Paths     PathsConfig     `yaml:"paths,omitempty"`
}

// DefaultFilePath returns the YAML config location.
func DefaultFilePath() string {
	return filepath.Join(db.DefaultDir(), DefaultFileName)
}

// DefaultEnvFiles returns the .env files loaded at startup, in order.
func DefaultEnvFiles() []string {
	return []string{".env", filepath.Join(db.DefaultDir(), EnvFileName)}
}

// LoadEnvFiles loads each existing file into the process environment.
// Variables that are already set are never overridden, so earlier files win
// over later ones. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// LoadFile reads the YAML config at path. A missing file yields an empty
// Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve layers env over file over built-in defaults, then flags over all.
// getenv is usually os.Getenv.
func Resolve(file Config, getenv func(string) string, flags APIConfig) Config {
	cfg := file

	pick(&cfg.API.BaseURL, getenv(EnvBaseURL), flags.BaseURL)
	pick(&cfg.API.APIKey, firstNonEmpty(getenv(EnvAPIKey), getenv(EnvOpenAIAPIKey)), flags.APIKey)
	pick(&cfg.API.Model, getenv(EnvModel), flags.Model)
	pick(&cfg.API.CustomModel, "", flags.CustomModel)
	pick(&cfg.Recording.FFmpeg, getenv(EnvFFmpeg))
	pick(&cfg.Paths.Database, getenv(EnvDatabase))
	pick(&cfg.Paths.Socket, getenv(EnvSocket))

	if cfg.Paths.Database == "" {
		cfg.Paths.Database = db.DefaultDBPath()
	}
	if cfg.Paths.Socket == "" {
		cfg.Paths.Socket = filepath.Join(db.DefaultDir(), SocketFileName)
	}
	if cfg.Paths.Log == "" {
		cfg.Paths.Log = filepath.Join(db.DefaultDir(), LogFileName)
	}
	return cfg
}

// Load loads the .env files and YAML file from their default locations and
// resolves them against the process environment and flags.
func Load(path string, flags APIConfig) (Config, error) {
	if err := LoadEnvFiles(DefaultEnvFiles()...); err != nil {
		return Config{}, err
	}
	if path == "" {
		path = DefaultFilePath()
	}
	file, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Resolve(file, os.Getenv, flags), nil
}

// ApplyAPI writes the API overrides into s and reports whether anything
// changed. A custom model name implies the "custom" model sentinel.
func (c Config) ApplyAPI(s *settings.Settings) bool {
	before := s.API
	if c.API.BaseURL != "" {
		s.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	}
	if c.API.APIKey != "" {
		s.API.APIKey = c.API.APIKey
	}
	if c.API.Model != "" {
		s.API.Model = c.API.Model
	}
	if c.API.CustomModel != "" {
		s.API.Model = settings.ModelCustom
		s.API.CustomModel = c.API.CustomModel
	}
	return s.API != before
}

// Device builds the capture device, filling unset fields from the
// platform default.
func (c Config) Device() *recorder.FFmpegDevice {
	d := recorder.DefaultFFmpegDevice()
	if c.Recording.FFmpeg != "" {
		d.Binary = c.Recording.FFmpeg
	}
	if c.Recording.InputFormat != "" {
		d.InputFormat = c.Recording.InputFormat
	}
	if c.Recording.InputDevice != "" {
		d.Input = c.Recording.InputDevice
	}
	return d
}

// pick sets *dst to the last non-empty value, keeping *dst when all are empty.
func pick(dst *string, values ...string) {
	for _, v := range values {
		if v != "" {
			*dst = v
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
