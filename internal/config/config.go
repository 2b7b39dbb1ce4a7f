// Package config loads tsundoku settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

const (
	appName   = "tsundoku"
	envPrefix = "TSUNDOKU"
)

// Config groups the settings of every component.
type Config struct {
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`
	Reader  ReaderConfig  `mapstructure:"reader" yaml:"reader"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServiceConfig describes how to reach the document service.
type ServiceConfig struct {
	// BaseURL is the service root, e.g. "http://localhost:8000".
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Timeout bounds every HTTP request. Expiry is reported as a transport error.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// MaxRetries is the number of retries on HTTP 429.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// UploadConfig holds the upload pipeline policy.
type UploadConfig struct {
	// AcceptedTypes is either a single preset name ("pdf-epub", "pdf-txt",
	// "epub") or a list of file type names ("pdf", "epub", "txt").
	AcceptedTypes []string `mapstructure:"accepted_types" yaml:"accepted_types"`

	// StatusDwell is how long a status message stays before clearing itself.
	StatusDwell time.Duration `mapstructure:"status_dwell" yaml:"status_dwell"`

	// VerifyEPUB opens .epub files locally before staging them.
	VerifyEPUB bool `mapstructure:"verify_epub" yaml:"verify_epub"`
}

// ReaderConfig holds chapter reader presentation settings.
type ReaderConfig struct {
	PreviewLength   int  `mapstructure:"preview_length" yaml:"preview_length"`
	AllowRegenerate bool `mapstructure:"allow_regenerate" yaml:"allow_regenerate"`
	NormalizeHTML   bool `mapstructure:"normalize_html" yaml:"normalize_html"`
}

// LogConfig selects the log level and, for the TUI, the log file.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.base_url", "http://localhost:8000")
	v.SetDefault("service.timeout", "30s")
	v.SetDefault("service.user_agent", appName+"/dev")
	v.SetDefault("service.max_retries", 3)

	v.SetDefault("upload.accepted_types", []string{"pdf-epub"})
	v.SetDefault("upload.status_dwell", "30s")
	v.SetDefault("upload.verify_epub", false)

	v.SetDefault("reader.preview_length", 200)
	v.SetDefault("reader.allow_regenerate", false)
	v.SetDefault("reader.normalize_html", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(StateDir(), appName+".log"))
}

// Load reads the configuration. When cfgFile is empty it looks for
// ./tsundoku.yaml and $XDG_CONFIG_HOME/tsundoku/tsundoku.yaml. A missing file
// is not an error; defaults and environment variables still apply.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// WriteDefaults writes the default configuration as YAML to w.
func WriteDefaults(w io.Writer) error {
	v := viper.New()
	SetDefaults(v)
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ConfigDir returns XDG_CONFIG_HOME/tsundoku or ~/.config/tsundoku.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName)
}

// StateDir returns XDG_STATE_HOME/tsundoku or ~/.local/state/tsundoku.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", appName)
}
