// Package config loads sitecheck settings from defaults, an optional YAML
// file and SITECHECK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sitecheck/internal/photo"
	"sitecheck/internal/signature"
	"sitecheck/internal/storage"

	"github.com/spf13/viper"
)

const EnvPrefix = "SITECHECK"

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PhotoConfig struct {
	MaxPhotos    int   `mapstructure:"max_photos"`
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
	MaxWidth     int   `mapstructure:"max_width"`
	MaxPixels    int   `mapstructure:"max_pixels"`
	Quality      int   `mapstructure:"quality"`
	Concurrency  int   `mapstructure:"concurrency"`
}

// Options converts the settings for the photo pipeline
func (p PhotoConfig) Options() photo.Options {
	return photo.Options{
		MaxPhotos:    p.MaxPhotos,
		MaxFileBytes: p.MaxFileBytes,
		MaxWidth:     p.MaxWidth,
		MaxPixels:    p.MaxPixels,
		Quality:      p.Quality,
		Concurrency:  p.Concurrency,
	}
}

type SignatureConfig struct {
	ViewportWidth int     `mapstructure:"viewport_width"`
	LineWidth     float64 `mapstructure:"line_width"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	StorageDir     string `mapstructure:"storage_dir"`
	StorageBaseURL string `mapstructure:"storage_base_url"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	RedisAddr      string `mapstructure:"redis_addr"`
	SeedFile       string `mapstructure:"seed_file"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Photos    PhotoConfig     `mapstructure:"photos"`
	Signature SignatureConfig `mapstructure:"signature"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("photos.max_photos", photo.DefaultMaxPhotos)
	v.SetDefault("photos.max_file_bytes", storage.DefaultMaxFileBytes)
	v.SetDefault("photos.max_width", photo.DefaultMaxWidth)
	v.SetDefault("photos.max_pixels", photo.DefaultMaxPixels)
	v.SetDefault("photos.quality", photo.DefaultQuality)
	v.SetDefault("photos.concurrency", photo.DefaultConcurrency)

	v.SetDefault("signature.viewport_width", signature.MaxWidth)
	v.SetDefault("signature.line_width", signature.DefaultLineWidth)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.storage_dir", "./data/files")
	v.SetDefault("server.storage_base_url", "http://localhost:8080/v1")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.redis_addr", "")
	v.SetDefault("server.seed_file", "")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. cfgFile may be empty, in which case
// ./sitecheck.yaml is used when present. overrides holds flag values keyed
// like the config file ("api.base_url"); empty values are ignored.
func Load(cfgFile string, overrides map[string]string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sitecheck")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Photos.Quality < 1 || c.Photos.Quality > 100 {
		return fmt.Errorf("photos.quality must be between 1 and 100, got %d", c.Photos.Quality)
	}
	if c.Photos.MaxPhotos < 1 {
		return fmt.Errorf("photos.max_photos must be at least 1")
	}
	if c.Photos.MaxWidth < 1 {
		return fmt.Errorf("photos.max_width must be at least 1")
	}
	if c.Photos.MaxPixels < 1 {
		return fmt.Errorf("photos.max_pixels must be at least 1")
	}
	if c.Photos.MaxFileBytes < 1 {
		return fmt.Errorf("photos.max_file_bytes must be at least 1")
	}
	return nil
}
