package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 10, cfg.Photos.MaxPhotos)
	assert.EqualValues(t, 5<<20, cfg.Photos.MaxFileBytes)
	assert.Equal(t, 1920, cfg.Photos.MaxWidth)
	assert.Equal(t, 40_000_000, cfg.Photos.MaxPixels)
	assert.Equal(t, 80, cfg.Photos.Quality)
	assert.Equal(t, 600, cfg.Signature.ViewportWidth)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://file.example/v1
  timeout: 5s
photos:
  max_photos: 4
  quality: 70
`), 0o600))

	t.Setenv("SITECHECK_PHOTOS_QUALITY", "65")
	t.Setenv("SITECHECK_API_TOKEN", "env-token")

	cfg, err := Load(path, map[string]string{"api.base_url": "http://flag.example/v1", "log.level": ""})
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example/v1", cfg.API.BaseURL)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 4, cfg.Photos.MaxPhotos)
	assert.Equal(t, 65, cfg.Photos.Quality)
	assert.Equal(t, "info", cfg.Log.Level)

	opts := cfg.Photos.Options()
	assert.Equal(t, 4, opts.MaxPhotos)
	assert.Equal(t, 65, opts.Quality)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SITECHECK_PHOTOS_QUALITY", "0")
	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
