// Package config loads and validates the beatbridge configuration.
//
// Values are resolved with a fixed precedence: built-in defaults, then the
// config.json file, then BEATBRIDGE_* environment variables. The struct is
// assembled and validated once at startup; components receive it read-only.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

type Config struct {
	BeatsFolder string `json:"beats_folder"`
	DownloadDir string `json:"download_dir"`

	StoreURL     string `json:"store_url"`
	AccessToken  string `json:"access_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	CollectionID      string   `json:"collection_id"`
	ProductType       string   `json:"product_type"`
	DefaultTags       []string `json:"default_product_tags"`
	DefaultCategoryID string   `json:"default_category_id"`

	// AutoUpload is a pointer so an explicit false in the file survives the
	// defaults merge. Use AutoUploadDigitalDownloads() to read it.
	AutoUpload *bool `json:"auto_upload_digital_downloads"`

	Variants     []Variant         `json:"variants"`
	FilePatterns map[string]string `json:"file_patterns"`

	MenuPositions MenuPositions `json:"download_menu_positions"`

	BeatStars LoginConfig `json:"beatstars"`
	Shopify   LoginConfig `json:"shopify"`

	Timeouts TimeoutConfig `json:"timeouts"`
	Logging  LoggingConfig `json:"logging"`

	Verbose   bool `json:"verbose"`
	DebugMode bool `json:"debug_mode"`

	path string
}

// Variant is one configured licensing tier. DigitalFiles lists the logical
// file types ("mp3", "wav", "stems") the tier entitles a buyer to.
type Variant struct {
	Name         string   `json:"name"`
	Price        string   `json:"price"`
	DigitalFiles []string `json:"digital_files"`
}

// MenuPositions maps each download format to its 1-based row in the site's
// download menu. The ordering reflects observed site markup and may need
// adjustment if the menu layout changes.
type MenuPositions struct {
	MP3   int `json:"mp3"`
	WAV   int `json:"wav"`
	Stems int `json:"stems"`
}

type LoginConfig struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	AutoLogin       bool   `json:"auto_login"`
	ShowBrowser     *bool  `json:"show_browser"`
	ForceFreshLogin bool   `json:"force_fresh_login"`
}

// Headless reports whether the browser for this site should run headless.
// Human-in-the-loop checkpoints need a visible window, so the default is a
// visible browser.
func (l LoginConfig) Headless() bool {
	if l.ShowBrowser == nil {
		return false
	}
	return !*l.ShowBrowser
}

type TimeoutConfig struct {
	DownloadSeconds     int `json:"download_seconds"`
	ElementSeconds      int `json:"element_seconds"`
	LoginSeconds        int `json:"login_seconds"`
	SaveCompleteSeconds int `json:"save_complete_seconds"`
}

func (t TimeoutConfig) Download() time.Duration { return time.Duration(t.DownloadSeconds) * time.Second }

func (t TimeoutConfig) Element() time.Duration { return time.Duration(t.ElementSeconds) * time.Second }

func (t TimeoutConfig) Login() time.Duration { return time.Duration(t.LoginSeconds) * time.Second }

func (t TimeoutConfig) SaveComplete() time.Duration {
	return time.Duration(t.SaveCompleteSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ValidFileTypes are the logical file type keys accepted in variant
// digital_files lists and file_patterns.
var ValidFileTypes = []string{"mp3", "wav", "stems"}

func defaults() *Config {
	t := true
	return &Config{
		BeatsFolder: "beats",
		DownloadDir: "downloads",
		ProductType: "Beat",
		AutoUpload:  &t,
		Variants: []Variant{
			{Name: "MP3 Lease", Price: "29.99", DigitalFiles: []string{"mp3"}},
			{Name: "WAV Lease", Price: "49.99", DigitalFiles: []string{"mp3", "wav"}},
			{Name: "WAV + Stems", Price: "99.99", DigitalFiles: []string{"mp3", "wav", "stems"}},
		},
		FilePatterns: map[string]string{
			"mp3":   "*.mp3",
			"wav":   "*.wav",
			"stems": "*_stems.zip",
		},
		MenuPositions: MenuPositions{MP3: 3, WAV: 1, Stems: 2},
		BeatStars:     LoginConfig{ShowBrowser: &t},
		Shopify:       LoginConfig{ShowBrowser: &t},
		Timeouts: TimeoutConfig{
			DownloadSeconds:     60,
			ElementSeconds:      10,
			LoginSeconds:        300,
			SaveCompleteSeconds: 600,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads the config file at path, merges defaults, applies environment
// overrides and validates the result. A missing file is not an error; the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, defaults()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BeatsFolder = getEnvOrDefault("BEATBRIDGE_BEATS_FOLDER", c.BeatsFolder)
	c.DownloadDir = getEnvOrDefault("BEATBRIDGE_DOWNLOAD_DIR", c.DownloadDir)
	c.StoreURL = getEnvOrDefault("BEATBRIDGE_STORE_URL", c.StoreURL)
	c.AccessToken = getEnvOrDefault("BEATBRIDGE_ACCESS_TOKEN", c.AccessToken)
	c.ClientID = getEnvOrDefault("BEATBRIDGE_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnvOrDefault("BEATBRIDGE_CLIENT_SECRET", c.ClientSecret)
	c.CollectionID = getEnvOrDefault("BEATBRIDGE_COLLECTION_ID", c.CollectionID)
	c.Logging.Level = getEnvOrDefault("BEATBRIDGE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("BEATBRIDGE_LOG_FORMAT", c.Logging.Format)
	c.Verbose = getBoolOrDefault("BEATBRIDGE_VERBOSE", c.Verbose)
	c.DebugMode = getBoolOrDefault("BEATBRIDGE_DEBUG", c.DebugMode)
}

// Validate checks the universal invariants. Shopify credentials are only
// required for upload runs; see RequireShopify.
func (c *Config) Validate() error {
	if c.BeatsFolder == "" {
		return fmt.Errorf("beats_folder must not be empty")
	}
	for i, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variants[%d]: name must not be empty", i)
		}
		if v.Price == "" {
			return fmt.Errorf("variants[%d] (%s): price must not be empty", i, v.Name)
		}
		for _, ft := range v.DigitalFiles {
			if !isValidFileType(ft) {
				return fmt.Errorf("variants[%d] (%s): unknown digital file type %q", i, v.Name, ft)
			}
		}
	}
	for ft := range c.FilePatterns {
		if !isValidFileType(ft) {
			return fmt.Errorf("file_patterns: unknown file type %q", ft)
		}
	}
	if c.MenuPositions.MP3 < 1 || c.MenuPositions.WAV < 1 || c.MenuPositions.Stems < 1 {
		return fmt.Errorf("download_menu_positions must all be 1 or greater")
	}
	return nil
}

// RequireShopify verifies the store credentials an upload run needs.
func (c *Config) RequireShopify() error {
	if c.StoreURL == "" {
		return fmt.Errorf("store_url must be set for upload runs")
	}
	if c.AccessToken == "" && (c.ClientID == "" || c.ClientSecret == "") {
		return fmt.Errorf("either access_token or client_id/client_secret must be set")
	}
	return nil
}

// AutoUploadDigitalDownloads reports whether products should get their
// purchasable files attached through the admin UI right after creation.
func (c *Config) AutoUploadDigitalDownloads() bool {
	if c.AutoUpload == nil {
		return true
	}
	return *c.AutoUpload
}

// EffectiveLogLevel resolves the verbosity precedence: debug_mode overrides
// verbose, which overrides the configured logging level.
func (c *Config) EffectiveLogLevel() string {
	if c.DebugMode {
		return "debug"
	}
	if c.Verbose {
		return "debug"
	}
	return c.Logging.Level
}

// Path returns the file this configuration was loaded from.
func (c *Config) Path() string { return c.path }

// SaveAccessToken rewrites only the access_token key of the config file,
// preserving every other key, and updates the in-memory value. Used after an
// OAuth client-credentials refresh.
func (c *Config) SaveAccessToken(token string) error {
	if c.path == "" {
		c.AccessToken = token
		return nil
	}

	raw := map[string]interface{}{}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json5.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse %s for token update: %w", c.path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	raw["access_token"] = token

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", c.path, err)
	}

	c.AccessToken = token
	return nil
}

// VariantByName returns the configured variant whose name matches, first by
// exact comparison, then by case-insensitive substring in either direction.
func (c *Config) VariantByName(name string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, true
		}
	}
	lower := strings.ToLower(name)
	for _, v := range c.Variants {
		vl := strings.ToLower(v.Name)
		if strings.Contains(lower, vl) || strings.Contains(vl, lower) {
			return v, true
		}
	}
	return Variant{}, false
}

func isValidFileType(ft string) bool {
	for _, v := range ValidFileTypes {
		if v == ft {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
