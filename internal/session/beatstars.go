package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
)

const (
	// DefaultBeatStarsFile is the session file written to the working
	// directory.
	DefaultBeatStarsFile = "beatstars_session.json"
	// BeatStarsMaxAge is the freshness window beyond which a saved
	// session is discarded without attempting a restore.
	BeatStarsMaxAge = 7 * 24 * time.Hour

	beatStarsHome = "https://www.beatstars.com/"
	// StudioURL is the dashboard listing the creator's uploaded tracks.
	StudioURL = "https://studio.beatstars.com/content/tracks/uploaded"
)

// loggedInMarkers are DOM selectors that only render for an authenticated
// studio session, probed in order with a bounded wait each.
var loggedInMarkers = []string{
	"studio-list-item",
	"[class*='studio-header']",
	"studio-button-item-menu",
	"[data-cy*='studio']",
	"[class*='user-menu'], [class*='profile']",
}

// BeatStarsSession is the persisted shape: cookies, the URL at save time and
// the capture timestamp in epoch seconds.
type BeatStarsSession struct {
	Cookies   []playwright.Cookie `json:"cookies"`
	URL       string              `json:"url"`
	Timestamp int64               `json:"timestamp"`
}

// BeatStarsStore saves and restores the BeatStars session file.
type BeatStarsStore struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewBeatStarsStore(path string, logger *slog.Logger) *BeatStarsStore {
	if path == "" {
		path = DefaultBeatStarsFile
	}
	return &BeatStarsStore{
		path:   path,
		maxAge: BeatStarsMaxAge,
		now:    time.Now,
		logger: logger.With("component", "session", "site", "beatstars"),
	}
}

// Save captures the context's cookies together with the current URL.
func (s *BeatStarsStore) Save(page playwright.Page) error {
	cookies, err := page.Context().Cookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	sess := BeatStarsSession{
		Cookies:   cookies,
		URL:       page.URL(),
		Timestamp: s.now().Unix(),
	}
	if err := writeJSON(s.path, sess); err != nil {
		return err
	}
	s.logger.Info("session saved", "cookies", len(cookies))
	return nil
}

// Load reads the session file and enforces the freshness window.
func (s *BeatStarsStore) Load() (*BeatStarsSession, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var sess BeatStarsSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if !s.Fresh(&sess) {
		return nil, ErrSessionStale
	}
	return &sess, nil
}

// Fresh reports whether the session is within the freshness window.
func (s *BeatStarsStore) Fresh(sess *BeatStarsSession) bool {
	age := s.now().Sub(time.Unix(sess.Timestamp, 0))
	return age >= 0 && age <= s.maxAge
}

// Clear deletes the session file.
func (s *BeatStarsStore) Clear() error {
	return removeFile(s.path)
}

// Restore replays the saved cookies and confirms the studio recognizes the
// session. It returns (false, nil) when no usable session exists or the
// restore simply did not authenticate; hard browser errors are returned.
func (s *BeatStarsStore) Restore(ctx context.Context, page playwright.Page) (bool, error) {
	sess, err := s.Load()
	if err == ErrNoSession || err == ErrSessionStale {
		s.logger.Info("no usable session", "reason", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("restoring session", "saved_at", time.Unix(sess.Timestamp, 0))
	if _, err := page.Goto(beatStarsHome, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return false, fmt.Errorf("failed to open %s: %w", beatStarsHome, err)
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return false, err
	}

	added := 0
	for _, cookie := range sess.Cookies {
		if err := page.Context().AddCookies([]playwright.OptionalCookie{NormalizeCookie(cookie)}); err != nil {
			s.logger.Debug("cookie rejected", "name", cookie.Name, "error", err)
			continue
		}
		added++
	}
	s.logger.Debug("cookies restored", "added", added, "saved", len(sess.Cookies))

	if _, err := page.Goto(StudioURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return false, fmt.Errorf("failed to open studio: %w", err)
	}
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return false, err
	}

	// small scroll jiggle so the lazy list starts rendering rows
	page.Evaluate("window.scrollTo(0, 500)")
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return false, err
	}
	page.Evaluate("window.scrollTo(0, 0)")

	if s.LoggedIn(page) {
		s.logger.Info("session restored")
		return true, nil
	}
	s.logger.Info("session restore failed, login required")
	return false, nil
}

// LoggedIn polls the known logged-in markers with a bounded wait each.
func (s *BeatStarsStore) LoggedIn(page playwright.Page) bool {
	if strings.Contains(strings.ToLower(page.URL()), "account/login") {
		return false
	}
	for _, marker := range loggedInMarkers {
		err := page.Locator(marker).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: playwright.Float(3000),
		})
		if err == nil {
			s.logger.Debug("login verified", "marker", marker)
			return true
		}
	}
	return false
}

// NormalizeCookie prepares a saved cookie for AddCookies. Domains under
// beatstars.com collapse to the registrable domain, and the SameSite and
// expiry attributes are dropped because they are the usual rejection causes.
func NormalizeCookie(cookie playwright.Cookie) playwright.OptionalCookie {
	domain := cookie.Domain
	if strings.Contains(strings.TrimPrefix(domain, "."), "beatstars.com") {
		domain = ".beatstars.com"
	}
	normalized := playwright.OptionalCookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		HttpOnly: playwright.Bool(cookie.HttpOnly),
		Secure:   playwright.Bool(cookie.Secure),
	}
	if domain != "" {
		normalized.Domain = playwright.String(domain)
	}
	if cookie.Path != "" {
		normalized.Path = playwright.String(cookie.Path)
	}
	return normalized
}
