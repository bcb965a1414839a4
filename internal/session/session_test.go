package session

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBeatStarsLoadMissingFile(t *testing.T) {
	store := NewBeatStarsStore(filepath.Join(t.TempDir(), "none.json"), discardLogger())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBeatStarsLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0600))

	store := NewBeatStarsStore(path, discardLogger())
	_, err := store.Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestBeatStarsFreshnessWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewBeatStarsStore(path, discardLogger())

	saved := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := &BeatStarsSession{Timestamp: saved.Unix()}

	tests := []struct {
		name  string
		now   time.Time
		fresh bool
	}{
		{name: "just saved", now: saved.Add(time.Minute), fresh: true},
		{name: "six days", now: saved.Add(6 * 24 * time.Hour), fresh: true},
		{name: "exactly seven days", now: saved.Add(7 * 24 * time.Hour), fresh: true},
		{name: "past seven days", now: saved.Add(7*24*time.Hour + time.Second), fresh: false},
		{name: "clock skew", now: saved.Add(-time.Hour), fresh: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.now = func() time.Time { return tt.now }
			assert.Equal(t, tt.fresh, store.Fresh(sess))
		})
	}
}

func TestBeatStarsLoadStaleSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewBeatStarsStore(path, discardLogger())
	store.now = func() time.Time { return time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC) }

	sess := BeatStarsSession{
		URL:       StudioURL,
		Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}
	require.NoError(t, writeJSON(path, sess))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrSessionStale)
}

func TestBeatStarsLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewBeatStarsStore(path, discardLogger())

	saved := BeatStarsSession{
		Cookies: []playwright.Cookie{
			{Name: "auth", Value: "secret", Domain: ".beatstars.com", Path: "/"},
		},
		URL:       StudioURL,
		Timestamp: time.Now().Unix(),
	}
	require.NoError(t, writeJSON(path, saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, StudioURL, loaded.URL)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "auth", loaded.Cookies[0].Name)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a write")
}

func TestBeatStarsClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewBeatStarsStore(path, discardLogger())

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	require.NoError(t, store.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Clear(), "clearing an absent file is not an error")
}

func TestNormalizeCookie(t *testing.T) {
	tests := []struct {
		name       string
		cookie     playwright.Cookie
		wantDomain string
	}{
		{
			name:       "studio subdomain collapses",
			cookie:     playwright.Cookie{Name: "a", Value: "1", Domain: ".studio.beatstars.com"},
			wantDomain: ".beatstars.com",
		},
		{
			name:       "www subdomain collapses",
			cookie:     playwright.Cookie{Name: "a", Value: "1", Domain: "www.beatstars.com"},
			wantDomain: ".beatstars.com",
		},
		{
			name:       "foreign domain untouched",
			cookie:     playwright.Cookie{Name: "a", Value: "1", Domain: "cdn.example.com"},
			wantDomain: "cdn.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCookie(tt.cookie)
			require.NotNil(t, got.Domain)
			assert.Equal(t, tt.wantDomain, *got.Domain)
		})
	}
}

func TestNormalizeCookieDropsRejectionCauses(t *testing.T) {
	cookie := playwright.Cookie{
		Name:     "auth",
		Value:    "secret",
		Domain:   ".beatstars.com",
		Path:     "/studio",
		Expires:  1900000000,
		HttpOnly: true,
		Secure:   true,
		SameSite: playwright.SameSiteAttributeStrict,
	}

	got := NormalizeCookie(cookie)
	assert.Nil(t, got.SameSite)
	assert.Nil(t, got.Expires)
	assert.Equal(t, "auth", got.Name)
	assert.Equal(t, "secret", got.Value)
	require.NotNil(t, got.Path)
	assert.Equal(t, "/studio", *got.Path)
	require.NotNil(t, got.HttpOnly)
	assert.True(t, *got.HttpOnly)
	require.NotNil(t, got.Secure)
	assert.True(t, *got.Secure)
}

func TestLoggedInURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "admin dashboard", url: "https://admin.shopify.com/store/mystore", want: true},
		{name: "admin subpage", url: "https://admin.shopify.com/store/mystore/products", want: true},
		{name: "mixed case", url: "https://ADMIN.shopify.com/STORE/mystore", want: true},
		{name: "login page", url: "https://admin.shopify.com/store/mystore/login", want: false},
		{name: "two factor", url: "https://admin.shopify.com/store/mystore/two_factor", want: false},
		{name: "2fa fragment", url: "https://admin.shopify.com/store/mystore/2fa/verify", want: false},
		{name: "auth flow", url: "https://admin.shopify.com/store/mystore/authentication", want: false},
		{name: "accounts host", url: "https://accounts.shopify.com/select", want: false},
		{name: "missing store path", url: "https://admin.shopify.com/", want: false},
		{name: "empty", url: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LoggedInURL(tt.url))
		})
	}
}

func TestAdminURL(t *testing.T) {
	assert.Equal(t, "https://admin.shopify.com/store/mystore", AdminURL("mystore.myshopify.com"))
	assert.Equal(t, "https://admin.shopify.com/store/mystore", AdminURL("mystore"))
}

func TestShopifyStoreStatePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shopify.json")
	store := NewShopifyStore(path, discardLogger())

	_, ok := store.StatePath()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	got, ok := store.StatePath()
	assert.True(t, ok)
	assert.Equal(t, path, got)

	require.NoError(t, store.Clear())
	_, ok = store.StatePath()
	assert.False(t, ok)
}
