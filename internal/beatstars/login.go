package beatstars

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
)

const loginURL = "https://www.beatstars.com/login"

var (
	emailSelectors = []string{
		"input[type='email']",
		"input[name='username']",
		"input[name='email']",
		"input[formcontrolname='username']",
	}
	passwordSelectors = []string{
		"input[type='password']",
		"input[name='password']",
		"input[formcontrolname='password']",
	}
	submitSelectors = []string{
		"button[type='submit']",
		"xpath=//button[contains(., 'Log in') or contains(., 'Log In') or contains(., 'Sign in')]",
	}
	captchaSelectors = []string{
		"iframe[src*='recaptcha']",
		"iframe[src*='hcaptcha']",
		"div.g-recaptcha",
		"[class*='captcha']",
	}
	twoFactorSelectors = []string{
		"input[autocomplete='one-time-code']",
		"input[name*='otp']",
		"input[name*='code']",
	}
)

// EnsureLoggedIn establishes an authenticated dashboard session: restore the
// saved one when it is fresh, otherwise log in again, automatically when
// credentials are configured and manually as the fallback. CAPTCHA and
// two-factor challenges always go to the human; there is no bypass.
func (s *Scraper) EnsureLoggedIn(ctx context.Context, page playwright.Page) error {
	if s.cfg.BeatStars.ForceFreshLogin {
		if err := s.sessions.Clear(); err != nil {
			s.logger.Warn("failed to clear saved session", "error", err)
		} else {
			s.logger.Info("forcing fresh login, saved session cleared")
		}
	}

	restored, err := s.sessions.Restore(ctx, page)
	if err != nil {
		return err
	}
	if restored {
		s.logger.Info("session restored, already logged in")
		return nil
	}

	if err := s.browser.NavigateWithRetry(page, loginURL, 3); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	if err := browser.Sleep(ctx, 2*time.Second); err != nil {
		return err
	}

	creds := s.cfg.BeatStars
	if creds.AutoLogin && creds.Email != "" && creds.Password != "" {
		if err := s.autoLogin(ctx, page); err != nil {
			s.logger.Warn("automatic login failed, falling back to manual", "error", err)
		}
	}

	if !s.sessions.LoggedIn(page) {
		if challenge := detectChallenge(page); challenge != "" {
			s.logger.Info("login challenge detected, complete it in the browser window", "challenge", challenge)
		}
		if err := s.waitForManualLogin(ctx, page); err != nil {
			return err
		}
	}

	if err := s.sessions.Save(page); err != nil {
		s.logger.Warn("failed to save session", "error", err)
	} else {
		s.logger.Info("session saved")
	}
	return nil
}

func (s *Scraper) autoLogin(ctx context.Context, page playwright.Page) error {
	creds := s.cfg.BeatStars
	s.logger.Info("attempting automatic login", "email", creds.Email)

	email, err := s.firstVisible(page, emailSelectors, 5*time.Second)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := email.Fill(creds.Email); err != nil {
		return fmt.Errorf("failed to fill email: %w", err)
	}

	password, err := s.firstVisible(page, passwordSelectors, 5*time.Second)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := password.Fill(creds.Password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}

	submit, err := s.firstVisible(page, submitSelectors, 5*time.Second)
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	if err := browser.Sleep(ctx, 5*time.Second); err != nil {
		return err
	}

	if challenge := detectChallenge(page); challenge != "" {
		return fmt.Errorf("%s challenge blocks automatic login", challenge)
	}
	if !s.sessions.LoggedIn(page) {
		return errors.New("credentials submitted but dashboard markers never appeared")
	}
	return nil
}

// waitForManualLogin blocks until the human finishes logging in: it polls the
// dashboard markers and also accepts an Enter keypress as a hint to re-check
// immediately. Gives up after the configured login timeout.
func (s *Scraper) waitForManualLogin(ctx context.Context, page playwright.Page) error {
	timeout := s.cfg.Timeouts.Login()
	deadline := time.Now().Add(timeout)

	s.logger.Info("waiting for manual login", "timeout", timeout)
	fmt.Fprintln(os.Stderr, "Log in to BeatStars in the browser window. Press Enter here once you are done.")

	entered := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(entered)
	}()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-entered:
			entered = nil
			if s.sessions.LoggedIn(page) {
				return nil
			}
			s.logger.Warn("dashboard markers not found yet, still waiting")
		case <-ticker.C:
			if s.sessions.LoggedIn(page) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("login not completed within %s", timeout)
			}
		}
	}
}

func (s *Scraper) firstVisible(page playwright.Page, selectors []string, perAttempt time.Duration) (playwright.Locator, error) {
	for _, sel := range selectors {
		loc, err := browser.WaitVisible(page, sel, perAttempt)
		if err == nil {
			return loc, nil
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("none of %d selectors matched: %w", len(selectors), browser.ErrNotFound)
}

// detectChallenge reports which human-only obstacle is on the page, if any.
func detectChallenge(page playwright.Page) string {
	for _, sel := range captchaSelectors {
		if count, err := page.Locator(sel).Count(); err == nil && count > 0 {
			return "captcha"
		}
	}
	for _, sel := range twoFactorSelectors {
		if count, err := page.Locator(sel).Count(); err == nil && count > 0 {
			return "two-factor"
		}
	}
	return ""
}
