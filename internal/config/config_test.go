package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "beats", cfg.BeatsFolder)
	assert.Equal(t, "downloads", cfg.DownloadDir)
	assert.Equal(t, "Beat", cfg.ProductType)
	assert.True(t, cfg.AutoUploadDigitalDownloads())
	assert.Len(t, cfg.Variants, 3)
	assert.Equal(t, 3, cfg.MenuPositions.MP3)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	// json5: comments and trailing commas are accepted
	path := writeConfig(t, `{
		// store under test
		"store_url": "example.myshopify.com",
		"beats_folder": "my_beats",
		"variants": [
			{"name": "Solo", "price": "10.00", "digital_files": ["mp3"]},
		],
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "example.myshopify.com", cfg.StoreURL)
	assert.Equal(t, "my_beats", cfg.BeatsFolder)
	require.Len(t, cfg.Variants, 1)
	assert.Equal(t, "Solo", cfg.Variants[0].Name)
	// unset keys still come from the defaults
	assert.Equal(t, "downloads", cfg.DownloadDir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitAutoUploadFalseSurvivesMerge(t *testing.T) {
	path := writeConfig(t, `{"auto_upload_digital_downloads": false}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.AutoUploadDigitalDownloads())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BEATBRIDGE_STORE_URL", "env-store.myshopify.com")
	t.Setenv("BEATBRIDGE_ACCESS_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "env-store.myshopify.com", cfg.StoreURL)
	assert.Equal(t, "env-token", cfg.AccessToken)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"variants": [{"name": "Solo", "price": "10.00", "digital_files": ["flac"]}]}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flac")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"empty beats folder", func(c *Config) { c.BeatsFolder = "" }, "beats_folder"},
		{"variant without name", func(c *Config) { c.Variants[0].Name = "" }, "name"},
		{"variant without price", func(c *Config) { c.Variants[0].Price = "" }, "price"},
		{"unknown pattern key", func(c *Config) { c.FilePatterns["flac"] = "*.flac" }, "flac"},
		{"menu position zero", func(c *Config) { c.MenuPositions.WAV = 0 }, "download_menu_positions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireShopify(t *testing.T) {
	cfg := defaults()
	assert.Error(t, cfg.RequireShopify(), "no store URL")

	cfg.StoreURL = "example.myshopify.com"
	assert.Error(t, cfg.RequireShopify(), "no credentials")

	cfg.AccessToken = "shpat_x"
	assert.NoError(t, cfg.RequireShopify())

	cfg.AccessToken = ""
	cfg.ClientID = "id"
	cfg.ClientSecret = "secret"
	assert.NoError(t, cfg.RequireShopify(), "client credentials alone are enough")
}

func TestEffectiveLogLevel(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "info", cfg.EffectiveLogLevel())

	cfg.Verbose = true
	assert.Equal(t, "debug", cfg.EffectiveLogLevel())

	cfg.Verbose = false
	cfg.DebugMode = true
	assert.Equal(t, "debug", cfg.EffectiveLogLevel())
}

func TestSaveAccessTokenRewritesOnlyTheToken(t *testing.T) {
	path := writeConfig(t, `{
		"store_url": "example.myshopify.com",
		"access_token": "old-token",
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.SaveAccessToken("new-token"))
	assert.Equal(t, "new-token", cfg.AccessToken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "new-token", raw["access_token"])
	assert.Equal(t, "example.myshopify.com", raw["store_url"])
}

func TestSaveAccessTokenWithoutFileIsMemoryOnly(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.SaveAccessToken("memory-token"))
	assert.Equal(t, "memory-token", cfg.AccessToken)
}

func TestVariantByName(t *testing.T) {
	cfg := defaults()

	v, ok := cfg.VariantByName("MP3 Lease")
	require.True(t, ok)
	assert.Equal(t, "MP3 Lease", v.Name)

	// substring match in either direction, case-insensitive
	v, ok = cfg.VariantByName("wav lease license")
	require.True(t, ok)
	assert.Equal(t, "WAV Lease", v.Name)

	_, ok = cfg.VariantByName("Exclusive")
	assert.False(t, ok)
}

func TestHeadless(t *testing.T) {
	var l LoginConfig
	assert.False(t, l.Headless(), "default is a visible window")

	show := false
	l.ShowBrowser = &show
	assert.True(t, l.Headless())
}
