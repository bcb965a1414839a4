// Package delivery drives the Digital Downloads app UI to attach the
// downloaded files to a product's variants. The app has no API; everything
// here works through its iframe inside the product admin page.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/beatforge/beatbridge/internal/browser"
	"github.com/beatforge/beatbridge/internal/config"
	"github.com/beatforge/beatbridge/internal/match"
	"github.com/beatforge/beatbridge/internal/session"
)

const (
	// initialUploadWait gives the app time to start pushing the files
	// before the first save attempt.
	initialUploadWait = 20 * time.Second
	// maxSaveAttempts bounds the save-then-dismiss-popup loop.
	maxSaveAttempts = 30
	// popupRetryWait is the pause between save attempts while the
	// uploading modal keeps appearing.
	popupRetryWait = 10 * time.Second

	backButtonSelector = `button#dynamic-back-button[role="link"]`
)

var frameSelectors = []string{
	`iframe[name="app-iframe"]`,
	`iframe[src*="delivery.shopifyapps.com"]`,
}

var saveSelectors = []string{
	`button:has-text("Save")`,
	`button:has-text("Enregistrer")`,
	`button:has-text("Done")`,
	`button[type="submit"]`,
}

var popupSelectors = []string{
	`[role="dialog"]`,
	`.Polaris-Modal-Dialog`,
	`div[class*="Modal"]`,
}

// uploadingWords identify the "your files are still uploading" modal in the
// locales the admin serves.
var uploadingWords = []string{"uploading", "upload", "téléchargement", "en cours"}

// scope locates elements either inside the app iframe or on the page
// itself when the app renders without one.
type scope func(selector string) playwright.Locator

type Attacher struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewAttacher(cfg *config.Config, logger *slog.Logger) *Attacher {
	return &Attacher{
		cfg:    cfg,
		logger: logger.With("component", "delivery"),
	}
}

// AttachFiles opens the product's Digital Downloads page, maps its file
// inputs to the configured variants by label, hands each variant its
// resolved files and waits out both the upload popups and the server-side
// save. It reports whether any files were actually attached.
func (a *Attacher) AttachFiles(ctx context.Context, page playwright.Page, productID, title, folder string) (bool, error) {
	productURL := session.AdminURL(a.cfg.StoreURL) + "/products/" + numericProductID(productID)

	a.logger.Info("attaching digital files", "title", title, "product", productID)

	if _, err := page.Goto(productURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	}); err != nil {
		return false, fmt.Errorf("failed to open product page: %w", err)
	}
	if err := browser.Sleep(ctx, 3*time.Second); err != nil {
		return false, err
	}
	if !session.LoggedInURL(page.URL()) {
		return false, fmt.Errorf("admin session expired at %s", page.URL())
	}
	if !strings.Contains(page.URL(), "/products/") {
		return false, fmt.Errorf("landed off the product page at %s", page.URL())
	}

	if err := a.openApp(ctx, page); err != nil {
		return false, err
	}

	locate, framed := a.appScope(ctx, page)

	inputs, err := locate("input[type='file']").All()
	if err != nil {
		return false, fmt.Errorf("failed to enumerate file inputs: %w", err)
	}
	if len(inputs) == 0 {
		return false, errors.New("no file inputs found in the app")
	}
	a.logger.Debug("file inputs found", "count", len(inputs))

	variantInputs := a.mapInputs(locate, inputs)
	if len(variantInputs) == 0 {
		return false, errors.New("no file input matched a configured variant")
	}

	attached := 0
	for _, v := range a.cfg.Variants {
		input, ok := variantInputs[v.Name]
		if !ok {
			a.logger.Debug("no input for variant", "variant", v.Name)
			continue
		}
		files := FilesForVariant(folder, v.DigitalFiles, a.cfg.FilePatterns)
		if len(files) == 0 {
			a.logger.Warn("no files resolved for variant", "variant", v.Name)
			continue
		}
		if err := input.SetInputFiles(files); err != nil {
			a.logger.Warn("failed to hand files to input", "variant", v.Name, "error", err)
			continue
		}
		a.logger.Info("files handed to variant", "variant", v.Name, "count", len(files))
		attached++
	}
	if attached == 0 {
		a.logger.Info("nothing to attach", "folder", folder)
		return false, nil
	}

	if err := a.waitForUploads(ctx, page, locate, framed); err != nil {
		return false, err
	}
	a.waitForSave(ctx, page)

	// settle, then leave the app so the next product starts clean
	browser.Sleep(ctx, 3*time.Second)
	a.returnToProducts(ctx, page)

	return true, nil
}

// openApp opens the overflow menu on the product page and follows the
// Digital Downloads entry.
func (a *Attacher) openApp(ctx context.Context, page playwright.Page) error {
	if err := browser.Click(page, `button:has-text("More actions")`, 10*time.Second); err != nil {
		return fmt.Errorf("overflow menu not found: %w", err)
	}
	if err := browser.Sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := browser.Click(page, `a:has-text("Add digital file")`, 10*time.Second); err != nil {
		return fmt.Errorf("digital downloads entry not found: %w", err)
	}
	return browser.Sleep(ctx, 5*time.Second)
}

// appScope finds the app iframe and returns a scope inside it. Some store
// layouts render the app inline, so falling back to the page itself is a
// working degradation, not an error.
func (a *Attacher) appScope(ctx context.Context, page playwright.Page) (scope, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		for _, sel := range frameSelectors {
			count, err := page.Locator(sel).Count()
			if err != nil || count == 0 {
				continue
			}
			frame := page.FrameLocator(sel)
			browser.Sleep(ctx, 4*time.Second)
			return func(s string) playwright.Locator { return frame.Locator(s) }, true
		}
		if err := browser.Sleep(ctx, 2*time.Second); err != nil {
			break
		}
	}

	a.logger.Warn("app iframe not found, using the page itself")
	return func(s string) playwright.Locator { return page.Locator(s) }, false
}

// mapInputs pairs each file input with the configured variant whose name
// tokens all appear in the input's label.
func (a *Attacher) mapInputs(locate scope, inputs []playwright.Locator) map[string]playwright.Locator {
	variantInputs := make(map[string]playwright.Locator)
	for _, input := range inputs {
		text := inputLabel(locate, input)
		if text == "" {
			continue
		}
		for _, v := range a.cfg.Variants {
			if match.LabelMatch(v.Name, text) {
				variantInputs[v.Name] = input
				a.logger.Debug("input mapped", "variant", v.Name, "label", strings.TrimSpace(text))
				break
			}
		}
	}
	return variantInputs
}

// inputLabel resolves an input's label text, preferring an explicit
// label[for] and falling back to the parent container's text.
func inputLabel(locate scope, input playwright.Locator) string {
	if id, err := input.GetAttribute("id"); err == nil && id != "" {
		label := locate(fmt.Sprintf(`label[for=%q]`, id)).First()
		if count, err := label.Count(); err == nil && count > 0 {
			if text, err := label.InnerText(); err == nil && strings.TrimSpace(text) != "" {
				return text
			}
		}
	}

	raw, err := input.Evaluate(`el => el.parentElement ? el.parentElement.textContent : ''`, nil)
	if err != nil {
		return ""
	}
	text, ok := raw.(string)
	if !ok {
		return ""
	}
	if len(text) > 100 {
		text = text[:100]
	}
	return text
}

// waitForUploads clicks Save until the uploading modal stops appearing. A
// save with no modal afterwards means the app accepted the files.
func (a *Attacher) waitForUploads(ctx context.Context, page playwright.Page, locate scope, framed bool) error {
	if err := browser.Sleep(ctx, initialUploadWait); err != nil {
		return err
	}

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		if !a.clickSave(page, locate, framed) {
			return errors.New("save button never appeared")
		}
		if err := browser.Sleep(ctx, 2*time.Second); err != nil {
			return err
		}

		dismissed, err := a.dismissUploadingModal(ctx, page)
		if err != nil {
			return err
		}
		if !dismissed {
			a.logger.Info("uploads complete", "attempts", attempt)
			return nil
		}

		a.logger.Debug("uploads still running", "attempt", attempt)
		if err := browser.Sleep(ctx, popupRetryWait); err != nil {
			return err
		}
	}
	return fmt.Errorf("uploads still running after %d save attempts", maxSaveAttempts)
}

func (a *Attacher) clickSave(page playwright.Page, locate scope, framed bool) bool {
	for _, sel := range saveSelectors {
		if framed && clickVisible(locate(sel).First()) {
			return true
		}
		if clickVisible(page.Locator(sel).First()) {
			return true
		}
	}
	return false
}

func clickVisible(loc playwright.Locator) bool {
	count, err := loc.Count()
	if err != nil || count == 0 {
		return false
	}
	visible, err := loc.IsVisible()
	if err != nil || !visible {
		return false
	}
	err = loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)})
	return err == nil
}

// dismissUploadingModal looks for the upload-in-progress modal on the page
// and closes it. It reports whether one was found, which means the uploads
// are not done yet.
func (a *Attacher) dismissUploadingModal(ctx context.Context, page playwright.Page) (bool, error) {
	for _, sel := range popupSelectors {
		popups, err := page.Locator(sel).All()
		if err != nil {
			continue
		}
		for _, popup := range popups {
			visible, err := popup.IsVisible()
			if err != nil || !visible {
				continue
			}
			text, err := popup.InnerText()
			if err != nil {
				continue
			}
			if !containsAny(strings.ToLower(text), uploadingWords) {
				continue
			}

			ok := popup.Locator(`button:has-text("OK"), button:has-text("Ok")`).First()
			if count, err := ok.Count(); err == nil && count > 0 {
				ok.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)})
			} else {
				browser.PressEscape(page)
			}
			if err := browser.Sleep(ctx, 500*time.Millisecond); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// waitForSave polls for the back button, the signal the server finished
// persisting the attachments. Running past the bound is only a warning;
// large stems archives can keep processing long after the UI settles.
func (a *Attacher) waitForSave(ctx context.Context, page playwright.Page) {
	limit := a.cfg.Timeouts.SaveComplete()
	deadline := time.Now().Add(limit)
	started := time.Now()

	for {
		loc := page.Locator(backButtonSelector).First()
		if count, err := loc.Count(); err == nil && count > 0 {
			visible, verr := loc.IsVisible()
			enabled, eerr := loc.IsEnabled()
			if verr == nil && eerr == nil && visible && enabled {
				a.logger.Info("save confirmed", "elapsed", time.Since(started).Round(time.Second))
				return
			}
		}

		if time.Now().After(deadline) {
			a.logger.Warn("save not confirmed within bound, moving on", "waited", limit)
			return
		}
		elapsed := time.Since(started).Round(time.Second)
		if elapsed > 0 && int(elapsed.Seconds())%30 == 0 {
			a.logger.Debug("still saving", "elapsed", elapsed)
		}
		if err := browser.Sleep(ctx, time.Second); err != nil {
			return
		}
	}
}

// returnToProducts navigates back to the product list, best-effort.
func (a *Attacher) returnToProducts(ctx context.Context, page playwright.Page) {
	productsURL := session.AdminURL(a.cfg.StoreURL) + "/products"
	if _, err := page.Goto(productsURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(15000),
	}); err != nil {
		a.logger.Warn("failed to return to the products page", "error", err)
		return
	}
	browser.Sleep(ctx, 2*time.Second)
}

// numericProductID strips a product GID down to the trailing numeric ID the
// admin URL wants.
func numericProductID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
