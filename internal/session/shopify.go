package session

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// DefaultShopifyFile is the storage-state file written to the working
// directory.
const DefaultShopifyFile = "shopify_session.json"

// shopify admin URLs containing any of these fragments are not
// authenticated sessions
var loginURLFragments = []string{"/login", "two_factor", "2fa", "authentication"}

// ShopifyStore saves and validates the Shopify admin session. Unlike the
// BeatStars store it persists the browser's full storage state, and validity
// is judged purely by URL shape after navigation.
type ShopifyStore struct {
	path   string
	logger *slog.Logger
}

func NewShopifyStore(path string, logger *slog.Logger) *ShopifyStore {
	if path == "" {
		path = DefaultShopifyFile
	}
	return &ShopifyStore{
		path:   path,
		logger: logger.With("component", "session", "site", "shopify"),
	}
}

// Save writes the context's storage state to the session file.
func (s *ShopifyStore) Save(browserCtx playwright.BrowserContext) error {
	if _, err := browserCtx.StorageState(s.path); err != nil {
		return fmt.Errorf("failed to save storage state: %w", err)
	}
	s.logger.Info("session saved", "path", s.path)
	return nil
}

// StatePath returns the storage-state file path when one exists on disk,
// for use as the new browser context's initial state.
func (s *ShopifyStore) StatePath() (string, bool) {
	if _, err := os.Stat(s.path); err != nil {
		return "", false
	}
	return s.path, true
}

// Clear deletes the session file.
func (s *ShopifyStore) Clear() error {
	return removeFile(s.path)
}

// Valid reports whether the page currently sits on an authenticated admin
// URL.
func (s *ShopifyStore) Valid(page playwright.Page) bool {
	return LoggedInURL(page.URL())
}

// LoggedInURL applies the URL-shape rule: an authenticated session is on
// admin.shopify.com under /store/ and not on any login, 2FA or
// authentication page.
func LoggedInURL(url string) bool {
	lower := strings.ToLower(url)
	if !strings.Contains(lower, "admin.shopify.com") || !strings.Contains(lower, "/store/") {
		return false
	}
	for _, fragment := range loginURLFragments {
		if strings.Contains(lower, fragment) {
			return false
		}
	}
	return true
}

// AdminURL builds the admin dashboard URL for a store host such as
// "example.myshopify.com".
func AdminURL(storeURL string) string {
	handle := strings.TrimSuffix(storeURL, ".myshopify.com")
	return "https://admin.shopify.com/store/" + handle
}
